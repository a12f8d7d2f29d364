package sunspec_modbus

import (
	"errors"

	"github.com/simonvetter/modbus"
)

const (
	SUNSPEC_BASE_ADDRESS       = 40000
	SUNSPEC_WK_COMMON          = 1
	SUNSPEC_WK_AC_METER_MIN    = 201
	SUNSPEC_WK_AC_METER_MAX    = 204
	SUNSPEC_WK_END             = 0xFFFF
	SUNSPEC_MARKER             = "SunS"
	SUNSPEC_MAX_SURVEYED_BLOCK = 20
)

var ErrNotSunSpec = errors.New("could not find a SunSpec device")

type modbusBlock struct {
	id       uint16
	baseAddr uint16
	length   uint16
}

func (block *modbusBlock) isEndBlock() bool {
	return block.id == SUNSPEC_WK_END
}

func (block *modbusBlock) next() uint16 {
	return block.baseAddr + block.length + 2
}

func surveyModbusBlock(reader ModbusClient, baseAddr uint16) (*modbusBlock, error) {
	header, err := reader.readRegisters(baseAddr, 2, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	return &modbusBlock{
		id:       header[0],
		length:   header[1],
		baseAddr: baseAddr,
	}, nil
}

// surveyBlocks walks the SunSpec model chain and returns the base address of every model
// found, keyed by model id.
func surveyBlocks(reader ModbusClient) (map[uint16]uint16, error) {
	marker, err := reader.readString(SUNSPEC_BASE_ADDRESS, 4)
	if err != nil {
		return nil, err
	}
	if marker != SUNSPEC_MARKER {
		return nil, ErrNotSunSpec
	}

	blocks := map[uint16]uint16{}
	var baseAddr uint16 = SUNSPEC_BASE_ADDRESS + 2
	for n := 0; n < SUNSPEC_MAX_SURVEYED_BLOCK; n++ {
		block, err := surveyModbusBlock(reader, baseAddr)
		if err != nil {
			return nil, err
		}
		if block.isEndBlock() {
			break
		}
		if _, ok := blocks[block.id]; !ok {
			blocks[block.id] = block.baseAddr
		}
		baseAddr = block.next()
	}
	return blocks, nil
}
