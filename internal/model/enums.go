package model

type PairStatus string

const (
	PairStatusPending  PairStatus = "pending"
	PairStatusPaired   PairStatus = "paired"
	PairStatusUnpaired PairStatus = "unpaired"
	PairStatusRemoved  PairStatus = "removed"
)

func (s PairStatus) Valid() bool {
	switch s {
	case PairStatusPending, PairStatusPaired, PairStatusUnpaired, PairStatusRemoved:
		return true
	}
	return false
}

type ConnectionStatus string

const (
	ConnectionOnline  ConnectionStatus = "online"
	ConnectionOffline ConnectionStatus = "offline"
)

type LocationSource string

const (
	LocationSourceForeground LocationSource = "foreground"
	LocationSourceBackground LocationSource = "background"
)

type CodeStatus string

const (
	CodeStatusPending CodeStatus = "pending"
	CodeStatusPaired  CodeStatus = "paired"
	CodeStatusExpired CodeStatus = "expired"
)

type ChangeTable string

const (
	ChangeTableDevices     ChangeTable = "devices"
	ChangeTableMemberships ChangeTable = "memberships"
)

type ChangeOp string

const (
	ChangeOpInsert ChangeOp = "insert"
	ChangeOpUpdate ChangeOp = "update"
	ChangeOpDelete ChangeOp = "delete"
)
