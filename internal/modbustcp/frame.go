package modbustcp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	MBAP_HEADER_SIZE   = 7
	MAX_PDU_SIZE       = 253
	MAX_READ_REGISTERS = 125
	DEFAULT_PORT       = 502
)

const (
	FC_READ_HOLDING_REGISTERS byte = 0x03
	FC_READ_INPUT_REGISTERS   byte = 0x04
)

const (
	EXCEPTION_ILLEGAL_FUNCTION      byte = 0x01
	EXCEPTION_ILLEGAL_DATA_ADDRESS  byte = 0x02
	EXCEPTION_ILLEGAL_DATA_VALUE    byte = 0x03
	EXCEPTION_SERVER_DEVICE_FAILURE byte = 0x04
	EXCEPTION_GW_TARGET_NO_RESPONSE byte = 0x0B
	exceptionFlag                   byte = 0x80
)

var ErrMalformedFrame = errors.New("malformed modbus frame")

type mbapHeader struct {
	transactionId uint16
	protocolId    uint16
	length        uint16
	unitId        byte
}

// readFrame reads one MBAP frame. Any inconsistency in the header means the byte
// stream can no longer be trusted, so it is reported as ErrMalformedFrame.
func readFrame(r io.Reader) (mbapHeader, []byte, error) {
	var raw [MBAP_HEADER_SIZE]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return mbapHeader{}, nil, err
	}
	h := mbapHeader{
		transactionId: binary.BigEndian.Uint16(raw[0:2]),
		protocolId:    binary.BigEndian.Uint16(raw[2:4]),
		length:        binary.BigEndian.Uint16(raw[4:6]),
		unitId:        raw[6],
	}
	if h.protocolId != 0 {
		return h, nil, fmt.Errorf("%w: protocol id %d", ErrMalformedFrame, h.protocolId)
	}
	if h.length < 2 || h.length > MAX_PDU_SIZE+1 {
		return h, nil, fmt.Errorf("%w: length %d", ErrMalformedFrame, h.length)
	}
	pdu := make([]byte, h.length-1)
	if _, err := io.ReadFull(r, pdu); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return h, nil, fmt.Errorf("%w: truncated pdu", ErrMalformedFrame)
		}
		return h, nil, err
	}
	return h, pdu, nil
}

func encodeFrame(h mbapHeader, pdu []byte) []byte {
	out := make([]byte, MBAP_HEADER_SIZE+len(pdu))
	binary.BigEndian.PutUint16(out[0:2], h.transactionId)
	binary.BigEndian.PutUint16(out[2:4], 0)
	binary.BigEndian.PutUint16(out[4:6], uint16(len(pdu)+1))
	out[6] = h.unitId
	copy(out[MBAP_HEADER_SIZE:], pdu)
	return out
}

func exceptionPDU(fc byte, code byte) []byte {
	return []byte{fc | exceptionFlag, code}
}

func registersPDU(fc byte, words []uint16) []byte {
	out := make([]byte, 2+2*len(words))
	out[0] = fc
	out[1] = byte(2 * len(words))
	for i, w := range words {
		binary.BigEndian.PutUint16(out[2+2*i:], w)
	}
	return out
}
