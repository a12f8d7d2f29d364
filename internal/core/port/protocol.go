package port

// RegisterSource is what the protocol server reads from.
type RegisterSource interface {
	// Covers reports whether the whole range belongs to mapped fields.
	Covers(address uint16, count uint16) bool
	// Read returns ok=false when the validity gate refuses the read.
	Read(address uint16, count uint16) ([]uint16, bool)
}

// ProtocolServer is a single listener bound to one address.
type ProtocolServer interface {
	Start(address string) error
	Stop()
	SetUnitId(unitId uint8)
	UnitId() uint8
	ActiveConnections() int
}
