package proto

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

var wireEndian = binary.LittleEndian

const (
	moveLen         = 14
	directionLen    = 2
	attackLen       = 1
	attackEndLen    = 1
	viewportLen     = 9
	gameStateMinLen = 3
	entityRecordLen = 14
	playerJoinedLen = 14
	playerLeftLen   = 5
	movementAckLen  = 13
	correctionLen   = 9
	entityMovedLen  = 14
	entityFacingLen = 6
	welcomeLen      = 13
	entityAttackLen = 6
)

const (
	flagMoving    = 1 << 0
	flagAttacking = 1 << 1
)

// packDelta encodes per-axis deltas in {-1,0,1} as two bits each: 00 = 0,
// 01 = +1, 10 = -1. The 11 pattern per axis is reserved.
func packDelta(dx, dy int8) (byte, error) {
	bx, err := packAxis(dx)
	if err != nil {
		return 0, errors.Wrap(err, "dx")
	}
	by, err := packAxis(dy)
	if err != nil {
		return 0, errors.Wrap(err, "dy")
	}
	return bx | by<<2, nil
}

func packAxis(v int8) (byte, error) {
	switch v {
	case 0:
		return 0b00, nil
	case 1:
		return 0b01, nil
	case -1:
		return 0b10, nil
	default:
		return 0, errors.Errorf("delta %d outside {-1,0,1}", v)
	}
}

func unpackDelta(b byte) (int8, int8, error) {
	if b&0xF0 != 0 {
		return 0, 0, errors.Errorf("packed delta 0x%02x has reserved high bits set", b)
	}
	dx, err := unpackAxis(b & 0b11)
	if err != nil {
		return 0, 0, errors.Wrap(err, "dx")
	}
	dy, err := unpackAxis(b >> 2 & 0b11)
	if err != nil {
		return 0, 0, errors.Wrap(err, "dy")
	}
	return dx, dy, nil
}

func unpackAxis(bits byte) (int8, error) {
	switch bits {
	case 0b00:
		return 0, nil
	case 0b01:
		return 1, nil
	case 0b10:
		return -1, nil
	default:
		return 0, errors.New("reserved axis bit pattern 11")
	}
}

func validFacing(f int8) bool {
	return f == -1 || f == 1
}

func appendU32(buf []byte, v uint32) []byte {
	return wireEndian.AppendUint32(buf, v)
}

func appendF32(buf []byte, v float32) []byte {
	return wireEndian.AppendUint32(buf, math.Float32bits(v))
}

func readU32(buf []byte) uint32 {
	return wireEndian.Uint32(buf)
}

func readF32(buf []byte) float32 {
	return math.Float32frombits(wireEndian.Uint32(buf))
}

// Encode serializes a message into a single frame. It fails on field values
// the wire format cannot represent (deltas outside {-1,0,1}, facing outside
// {-1,+1}) so invalid state never reaches the wire.
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case Move:
		packed, err := packDelta(m.DX, m.DY)
		if err != nil {
			return nil, errors.Wrap(err, "encode move")
		}
		buf := make([]byte, 0, moveLen)
		buf = append(buf, byte(TagMove), packed)
		buf = appendU32(buf, m.Seq)
		buf = appendF32(buf, m.PredictedX)
		buf = appendF32(buf, m.PredictedY)
		return buf, nil
	case Direction:
		if !validFacing(m.Facing) {
			return nil, errors.Errorf("encode direction: facing %d outside {-1,+1}", m.Facing)
		}
		return []byte{byte(TagDirection), byte(m.Facing)}, nil
	case Attack:
		return []byte{byte(TagAttack)}, nil
	case AttackEnd:
		return []byte{byte(TagAttackEnd)}, nil
	case Viewport:
		buf := make([]byte, 0, viewportLen)
		buf = append(buf, byte(TagViewport))
		buf = appendF32(buf, m.Width)
		buf = appendF32(buf, m.Height)
		return buf, nil
	case GameState:
		if len(m.Entities) > math.MaxUint16 {
			return nil, errors.Errorf("encode game state: %d entities exceeds uint16 count", len(m.Entities))
		}
		buf := make([]byte, 0, gameStateMinLen+entityRecordLen*len(m.Entities))
		buf = append(buf, byte(TagGameState))
		buf = wireEndian.AppendUint16(buf, uint16(len(m.Entities)))
		for _, ent := range m.Entities {
			if !validFacing(ent.Facing) {
				return nil, errors.Errorf("encode game state: entity %d facing %d outside {-1,+1}", ent.ID, ent.Facing)
			}
			buf = appendU32(buf, ent.ID)
			buf = appendF32(buf, ent.X)
			buf = appendF32(buf, ent.Y)
			buf = append(buf, byte(ent.Facing), entityFlags(ent.Moving, ent.Attacking))
		}
		return buf, nil
	case PlayerJoined:
		if !validFacing(m.Facing) {
			return nil, errors.Errorf("encode player joined: facing %d outside {-1,+1}", m.Facing)
		}
		buf := make([]byte, 0, playerJoinedLen)
		buf = append(buf, byte(TagPlayerJoined))
		buf = appendU32(buf, m.ID)
		buf = appendF32(buf, m.X)
		buf = appendF32(buf, m.Y)
		buf = append(buf, byte(m.Facing))
		return buf, nil
	case PlayerLeft:
		buf := make([]byte, 0, playerLeftLen)
		buf = append(buf, byte(TagPlayerLeft))
		buf = appendU32(buf, m.ID)
		return buf, nil
	case MovementAck:
		buf := make([]byte, 0, movementAckLen)
		buf = append(buf, byte(TagMovementAck))
		buf = appendU32(buf, m.Seq)
		buf = appendF32(buf, m.X)
		buf = appendF32(buf, m.Y)
		return buf, nil
	case Correction:
		buf := make([]byte, 0, correctionLen)
		buf = append(buf, byte(TagCorrection))
		buf = appendF32(buf, m.X)
		buf = appendF32(buf, m.Y)
		return buf, nil
	case EntityMoved:
		packed, err := packDelta(m.DX, m.DY)
		if err != nil {
			return nil, errors.Wrap(err, "encode entity moved")
		}
		buf := make([]byte, 0, entityMovedLen)
		buf = append(buf, byte(TagEntityMoved))
		buf = appendU32(buf, m.ID)
		buf = appendF32(buf, m.X)
		buf = appendF32(buf, m.Y)
		buf = append(buf, packed)
		return buf, nil
	case EntityFacing:
		if !validFacing(m.Facing) {
			return nil, errors.Errorf("encode entity facing: facing %d outside {-1,+1}", m.Facing)
		}
		buf := make([]byte, 0, entityFacingLen)
		buf = append(buf, byte(TagEntityFacing))
		buf = appendU32(buf, m.ID)
		buf = append(buf, byte(m.Facing))
		return buf, nil
	case Welcome:
		buf := make([]byte, 0, welcomeLen)
		buf = append(buf, byte(TagWelcome))
		buf = appendU32(buf, m.ID)
		buf = appendF32(buf, m.WorldWidth)
		buf = appendF32(buf, m.WorldHeight)
		return buf, nil
	case EntityAttack:
		buf := make([]byte, 0, entityAttackLen)
		buf = append(buf, byte(TagEntityAttack))
		buf = appendU32(buf, m.ID)
		if m.Attacking {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		return buf, nil
	default:
		return nil, errors.Errorf("encode: unsupported message %T", msg)
	}
}

func entityFlags(moving, attacking bool) byte {
	var flags byte
	if moving {
		flags |= flagMoving
	}
	if attacking {
		flags |= flagAttacking
	}
	return flags
}

// Decode parses a single frame. It fails closed: an empty buffer, an unknown
// tag, a frame shorter than its declared type requires, trailing bytes, or a
// reserved bit pattern all yield an error. Callers drop the frame and keep
// the connection open.
func Decode(buf []byte) (Message, error) {
	if len(buf) == 0 {
		return nil, errors.New("decode: empty frame")
	}
	tag := Tag(buf[0])
	switch tag {
	case TagMove:
		if err := exactLen(buf, moveLen, tag); err != nil {
			return nil, err
		}
		dx, dy, err := unpackDelta(buf[1])
		if err != nil {
			return nil, errors.Wrap(err, "decode move")
		}
		return Move{
			DX:         dx,
			DY:         dy,
			Seq:        readU32(buf[2:]),
			PredictedX: readF32(buf[6:]),
			PredictedY: readF32(buf[10:]),
		}, nil
	case TagDirection:
		if err := exactLen(buf, directionLen, tag); err != nil {
			return nil, err
		}
		facing := int8(buf[1])
		if !validFacing(facing) {
			return nil, errors.Errorf("decode direction: facing %d outside {-1,+1}", facing)
		}
		return Direction{Facing: facing}, nil
	case TagAttack:
		if err := exactLen(buf, attackLen, tag); err != nil {
			return nil, err
		}
		return Attack{}, nil
	case TagAttackEnd:
		if err := exactLen(buf, attackEndLen, tag); err != nil {
			return nil, err
		}
		return AttackEnd{}, nil
	case TagViewport:
		if err := exactLen(buf, viewportLen, tag); err != nil {
			return nil, err
		}
		return Viewport{Width: readF32(buf[1:]), Height: readF32(buf[5:])}, nil
	case TagGameState:
		if len(buf) < gameStateMinLen {
			return nil, errors.Errorf("decode: frame tag 0x%02x length %d below minimum %d", byte(tag), len(buf), gameStateMinLen)
		}
		count := int(wireEndian.Uint16(buf[1:]))
		if err := exactLen(buf, gameStateMinLen+entityRecordLen*count, tag); err != nil {
			return nil, err
		}
		state := GameState{Entities: make([]EntityRecord, 0, count)}
		offset := gameStateMinLen
		for i := 0; i < count; i++ {
			rec := buf[offset : offset+entityRecordLen]
			facing := int8(rec[12])
			if !validFacing(facing) {
				return nil, errors.Errorf("decode game state: record %d facing %d outside {-1,+1}", i, facing)
			}
			flags := rec[13]
			if flags&^(byte(flagMoving|flagAttacking)) != 0 {
				return nil, errors.Errorf("decode game state: record %d has unknown flag bits 0x%02x", i, flags)
			}
			state.Entities = append(state.Entities, EntityRecord{
				ID:        readU32(rec),
				X:         readF32(rec[4:]),
				Y:         readF32(rec[8:]),
				Facing:    facing,
				Moving:    flags&flagMoving != 0,
				Attacking: flags&flagAttacking != 0,
			})
			offset += entityRecordLen
		}
		return state, nil
	case TagPlayerJoined:
		if err := exactLen(buf, playerJoinedLen, tag); err != nil {
			return nil, err
		}
		facing := int8(buf[13])
		if !validFacing(facing) {
			return nil, errors.Errorf("decode player joined: facing %d outside {-1,+1}", facing)
		}
		return PlayerJoined{
			ID:     readU32(buf[1:]),
			X:      readF32(buf[5:]),
			Y:      readF32(buf[9:]),
			Facing: facing,
		}, nil
	case TagPlayerLeft:
		if err := exactLen(buf, playerLeftLen, tag); err != nil {
			return nil, err
		}
		return PlayerLeft{ID: readU32(buf[1:])}, nil
	case TagMovementAck:
		if err := exactLen(buf, movementAckLen, tag); err != nil {
			return nil, err
		}
		return MovementAck{Seq: readU32(buf[1:]), X: readF32(buf[5:]), Y: readF32(buf[9:])}, nil
	case TagCorrection:
		if err := exactLen(buf, correctionLen, tag); err != nil {
			return nil, err
		}
		return Correction{X: readF32(buf[1:]), Y: readF32(buf[5:])}, nil
	case TagEntityMoved:
		if err := exactLen(buf, entityMovedLen, tag); err != nil {
			return nil, err
		}
		dx, dy, err := unpackDelta(buf[13])
		if err != nil {
			return nil, errors.Wrap(err, "decode entity moved")
		}
		return EntityMoved{
			ID: readU32(buf[1:]),
			X:  readF32(buf[5:]),
			Y:  readF32(buf[9:]),
			DX: dx,
			DY: dy,
		}, nil
	case TagEntityFacing:
		if err := exactLen(buf, entityFacingLen, tag); err != nil {
			return nil, err
		}
		facing := int8(buf[5])
		if !validFacing(facing) {
			return nil, errors.Errorf("decode entity facing: facing %d outside {-1,+1}", facing)
		}
		return EntityFacing{ID: readU32(buf[1:]), Facing: facing}, nil
	case TagWelcome:
		if err := exactLen(buf, welcomeLen, tag); err != nil {
			return nil, err
		}
		return Welcome{ID: readU32(buf[1:]), WorldWidth: readF32(buf[5:]), WorldHeight: readF32(buf[9:])}, nil
	case TagEntityAttack:
		if err := exactLen(buf, entityAttackLen, tag); err != nil {
			return nil, err
		}
		switch buf[5] {
		case 0:
			return EntityAttack{ID: readU32(buf[1:]), Attacking: false}, nil
		case 1:
			return EntityAttack{ID: readU32(buf[1:]), Attacking: true}, nil
		default:
			return nil, errors.Errorf("decode entity attack: state byte 0x%02x outside {0,1}", buf[5])
		}
	default:
		return nil, errors.Errorf("decode: unknown tag 0x%02x", byte(tag))
	}
}

func exactLen(buf []byte, want int, tag Tag) error {
	if len(buf) < want {
		return errors.Errorf("decode: frame tag 0x%02x length %d below minimum %d", byte(tag), len(buf), want)
	}
	if len(buf) > want {
		return errors.Errorf("decode: frame tag 0x%02x length %d has %d trailing bytes", byte(tag), len(buf), len(buf)-want)
	}
	return nil
}
