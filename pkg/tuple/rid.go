package tuple

import (
	"encoding/binary"
	"fmt"

	"graindb/pkg/primitives"
)

// RIDSize is the serialized size of a record identifier: a 4-byte page id
// followed by a 4-byte slot number.
const RIDSize = 8

// RID identifies a tuple by the page that stores it and its slot within
// that page.
type RID struct {
	PageID primitives.PageID
	Slot   primitives.SlotID
}

// InvalidRID is the zero-value-adjacent sentinel for an unset record id.
var InvalidRID = RID{PageID: primitives.InvalidPageID}

func NewRID(pid primitives.PageID, slot primitives.SlotID) RID {
	return RID{PageID: pid, Slot: slot}
}

// Serialize writes the record id into buf, which must hold RIDSize bytes.
func (r RID) Serialize(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(r.PageID))
	binary.BigEndian.PutUint32(buf[4:8], uint32(r.Slot))
}

// DeserializeRID reads a record id from the first RIDSize bytes of buf.
func DeserializeRID(buf []byte) RID {
	return RID{
		PageID: primitives.PageID(binary.BigEndian.Uint32(buf[0:4])),
		Slot:   primitives.SlotID(binary.BigEndian.Uint32(buf[4:8])),
	}
}

func (r RID) Equals(other RID) bool {
	return r.PageID == other.PageID && r.Slot == other.Slot
}

func (r RID) String() string {
	return fmt.Sprintf("RID(%d,%d)", r.PageID, r.Slot)
}
