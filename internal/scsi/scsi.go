// Package scsi holds the probe commands the raw transport needs to derive
// a device's geometry: CDB construction, pass-through execution (SG_IO on
// Linux) and the big-endian field decoders for the returned data.
package scsi

import (
	"encoding/binary"
	"errors"
)

// SCSI operation codes and related constants used by the probes.
const (
	opInquiry           = 0x12
	opServiceActionIn16 = 0x9e
	saReadCapacity16    = 0x10

	// VPDBlockLimits is the Block Limits vital product data page.
	VPDBlockLimits = 0xb0

	// StatusGood is the GOOD SCSI status.
	StatusGood uint8 = 0x00

	// ReadCapacity16Len is the size of the READ CAPACITY (16) parameter
	// data this package decodes.
	ReadCapacity16Len = 32

	// BlockLimitsLen is the minimum Block Limits page length that covers
	// the MAXIMUM TRANSFER LENGTH field.
	BlockLimitsLen = 12

	// DefaultMaxTransferLength is used when the device reports a zero
	// maximum transfer length.
	DefaultMaxTransferLength = 64 * 1024
)

// ErrShortData marks probe parameter data too short to decode.
var ErrShortData = errors.New("scsi: parameter data too short")

// ReadCapacity16CDB builds a READ CAPACITY (16) command (SERVICE ACTION
// IN with the READ CAPACITY 16 service action).
func ReadCapacity16CDB(allocLen uint32) []byte {
	cdb := make([]byte, 16)
	cdb[0] = opServiceActionIn16
	cdb[1] = saReadCapacity16
	binary.BigEndian.PutUint32(cdb[10:14], allocLen)
	return cdb
}

// InquiryVPDCDB builds an INQUIRY command requesting a vital product data
// page.
func InquiryVPDCDB(page byte, allocLen uint16) []byte {
	cdb := make([]byte, 6)
	cdb[0] = opInquiry
	cdb[1] = 0x01 // EVPD
	cdb[2] = page
	binary.BigEndian.PutUint16(cdb[3:5], allocLen)
	return cdb
}

// DecodeReadCapacity16 decodes READ CAPACITY (16) parameter data. The
// RETURNED LOGICAL BLOCK ADDRESS is the last addressable block, so the
// block count is one past it. Fields are decoded as explicit big-endian
// reads, never by reinterpreting platform byte order.
func DecodeReadCapacity16(data []byte) (blockCount uint64, blockLength uint32, err error) {
	if len(data) < ReadCapacity16Len {
		return 0, 0, ErrShortData
	}
	blockCount = binary.BigEndian.Uint64(data[0:8]) + 1
	blockLength = binary.BigEndian.Uint32(data[8:12])
	return blockCount, blockLength, nil
}

// DecodeBlockLimits decodes the Block Limits VPD page and returns the
// MAXIMUM TRANSFER LENGTH field in blocks. Zero means the device reports
// no limit.
func DecodeBlockLimits(data []byte) (maxTransferBlocks uint32, err error) {
	if len(data) < BlockLimitsLen {
		return 0, ErrShortData
	}
	return binary.BigEndian.Uint32(data[8:12]), nil
}

// MaxTransferLength converts the Block Limits value into bytes, applying
// the default when the device reports zero.
func MaxTransferLength(maxTransferBlocks, blockLength uint32) uint32 {
	if maxTransferBlocks == 0 {
		return DefaultMaxTransferLength
	}
	return maxTransferBlocks * blockLength
}
