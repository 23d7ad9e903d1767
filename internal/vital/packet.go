package vital

import "fmt"

// PacketType tags the payload layout of a body packet.
type PacketType uint8

const (
	PacketTrackInfo  PacketType = 0
	PacketRecord     PacketType = 1
	PacketCommand    PacketType = 6
	PacketDeviceInfo PacketType = 9
)

func (p PacketType) String() string {
	switch p {
	case PacketTrackInfo:
		return "track-info"
	case PacketRecord:
		return "record"
	case PacketCommand:
		return "command"
	case PacketDeviceInfo:
		return "device-info"
	default:
		return fmt.Sprintf("packet(%d)", uint8(p))
	}
}

func (p PacketType) known() bool {
	switch p {
	case PacketTrackInfo, PacketRecord, PacketCommand, PacketDeviceInfo:
		return true
	}
	return false
}

// packetHeaderSize is the type byte plus the u32 payload length.
const packetHeaderSize = 5

// CommandCode identifies a command packet.
type CommandCode uint8

const (
	CommandOrder       CommandCode = 5
	CommandResetEvents CommandCode = 6
)

// Command is a decoded command packet. Order is set for CommandOrder only.
type Command struct {
	Code  CommandCode
	Order []uint16
}

// recordHeader is the common prefix of every data record.
type recordHeader struct {
	InfoLength uint16
	Time       float64
	TrackID    uint16
}

func parseTrackInfo(c *Cursor) (TrackInfo, error) {
	var (
		ti  TrackInfo
		err error
		u8  uint8
	)
	if ti.ID, err = c.Uint16(); err != nil {
		return ti, err
	}
	if u8, err = c.Uint8(); err != nil {
		return ti, err
	}
	ti.RecordType = RecordType(u8)
	if u8, err = c.Uint8(); err != nil {
		return ti, err
	}
	ti.RecordFormat = RecordFormat(u8)
	if ti.Name, err = c.Text(); err != nil {
		return ti, err
	}
	if ti.Unit, err = c.Text(); err != nil {
		return ti, err
	}
	if ti.MinValue, err = c.Float32(); err != nil {
		return ti, err
	}
	if ti.MaxValue, err = c.Float32(); err != nil {
		return ti, err
	}
	color, err := c.Bytes(4)
	if err != nil {
		return ti, err
	}
	copy(ti.Color[:], color)
	if ti.SampleRate, err = c.Float32(); err != nil {
		return ti, err
	}
	if ti.ADCGain, err = c.Float64(); err != nil {
		return ti, err
	}
	if ti.ADCOffset, err = c.Float64(); err != nil {
		return ti, err
	}
	if ti.MonitorType, err = c.Uint8(); err != nil {
		return ti, err
	}
	if ti.DeviceID, err = c.Uint32(); err != nil {
		return ti, err
	}
	return ti, nil
}

func parseRecordHeader(c *Cursor) (recordHeader, error) {
	var (
		rh  recordHeader
		err error
	)
	if rh.InfoLength, err = c.Uint16(); err != nil {
		return rh, err
	}
	if rh.Time, err = c.Float64(); err != nil {
		return rh, err
	}
	if rh.TrackID, err = c.Uint16(); err != nil {
		return rh, err
	}
	return rh, nil
}

func parseCommand(c *Cursor) (Command, error) {
	code, err := c.Uint8()
	if err != nil {
		return Command{}, err
	}
	cmd := Command{Code: CommandCode(code)}
	switch cmd.Code {
	case CommandOrder:
		n, err := c.Uint16()
		if err != nil {
			return cmd, err
		}
		cmd.Order = make([]uint16, 0, n)
		for i := 0; i < int(n); i++ {
			tid, err := c.Uint16()
			if err != nil {
				return cmd, err
			}
			cmd.Order = append(cmd.Order, tid)
		}
	case CommandResetEvents:
	default:
		return cmd, fmt.Errorf("%w: %d", ErrUnknownCommand, code)
	}
	return cmd, nil
}

func parseDeviceInfo(c *Cursor) (Device, error) {
	var (
		d   Device
		err error
	)
	if d.ID, err = c.Uint32(); err != nil {
		return d, err
	}
	if d.TypeName, err = c.Text(); err != nil {
		return d, err
	}
	if d.DeviceName, err = c.Text(); err != nil {
		return d, err
	}
	if d.Port, err = c.Text(); err != nil {
		return d, err
	}
	return d, nil
}
