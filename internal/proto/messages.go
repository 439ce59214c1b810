// Package proto defines the binary wire contract between the farfield server
// and its clients. Every message occupies exactly one websocket binary frame,
// starts with a one-byte type tag, and encodes multi-byte integers
// little-endian. Entity ids are fixed-width uint32 and movement deltas are
// packed two bits per axis; this is the single canonical layout.
package proto

// Tag identifies the message type carried by a frame.
type Tag byte

// Client → server tags.
const (
	TagMove      Tag = 0x01
	TagDirection Tag = 0x02
	TagAttack    Tag = 0x03
	TagAttackEnd Tag = 0x04
	TagViewport  Tag = 0x05
)

// Server → client tags.
const (
	TagGameState    Tag = 0x10
	TagPlayerJoined Tag = 0x11
	TagPlayerLeft   Tag = 0x12
	TagMovementAck  Tag = 0x13
	TagCorrection   Tag = 0x14
	TagEntityMoved  Tag = 0x15
	TagEntityFacing Tag = 0x16
	TagWelcome      Tag = 0x17
	TagEntityAttack Tag = 0x18
)

// Message is implemented by every wire message.
type Message interface {
	Tag() Tag
}

// Move carries a client movement intent: a packed per-axis delta, the client's
// input sequence number, and its locally predicted position for server-side
// sanity comparison.
type Move struct {
	DX         int8
	DY         int8
	Seq        uint32
	PredictedX float32
	PredictedY float32
}

// Direction reports a facing change (-1 or +1).
type Direction struct {
	Facing int8
}

// Attack signals the start of an attack.
type Attack struct{}

// AttackEnd signals the end of an attack.
type AttackEnd struct{}

// Viewport reports the client's current viewport size in world units.
type Viewport struct {
	Width  float32
	Height float32
}

// EntityRecord is one entity's state inside a GameState snapshot.
type EntityRecord struct {
	ID        uint32
	X         float32
	Y         float32
	Facing    int8
	Moving    bool
	Attacking bool
}

// GameState is the full authoritative snapshot used for periodic resync.
type GameState struct {
	Entities []EntityRecord
}

// PlayerJoined announces a newly spawned entity.
type PlayerJoined struct {
	ID     uint32
	X      float32
	Y      float32
	Facing int8
}

// PlayerLeft announces a removed entity.
type PlayerLeft struct {
	ID uint32
}

// MovementAck confirms an accepted input sequence with the authoritative
// position, letting the client discard older predicted state.
type MovementAck struct {
	Seq uint32
	X   float32
	Y   float32
}

// Correction carries an unprompted authoritative position, sent when input
// processing fails for a connection.
type Correction struct {
	X float32
	Y float32
}

// EntityMoved is the per-entity movement delta broadcast.
type EntityMoved struct {
	ID uint32
	X  float32
	Y  float32
	DX int8
	DY int8
}

// EntityFacing is the per-entity facing delta broadcast.
type EntityFacing struct {
	ID     uint32
	Facing int8
}

// EntityAttack is the per-entity attack-state delta broadcast.
type EntityAttack struct {
	ID        uint32
	Attacking bool
}

// Welcome assigns the connection its server-chosen entity id and world bounds.
type Welcome struct {
	ID          uint32
	WorldWidth  float32
	WorldHeight float32
}

func (Move) Tag() Tag         { return TagMove }
func (Direction) Tag() Tag    { return TagDirection }
func (Attack) Tag() Tag       { return TagAttack }
func (AttackEnd) Tag() Tag    { return TagAttackEnd }
func (Viewport) Tag() Tag     { return TagViewport }
func (GameState) Tag() Tag    { return TagGameState }
func (PlayerJoined) Tag() Tag { return TagPlayerJoined }
func (PlayerLeft) Tag() Tag   { return TagPlayerLeft }
func (MovementAck) Tag() Tag  { return TagMovementAck }
func (Correction) Tag() Tag   { return TagCorrection }
func (EntityMoved) Tag() Tag  { return TagEntityMoved }
func (EntityFacing) Tag() Tag { return TagEntityFacing }
func (Welcome) Tag() Tag      { return TagWelcome }
func (EntityAttack) Tag() Tag { return TagEntityAttack }
