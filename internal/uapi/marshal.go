package uapi

import (
	"encoding/binary"
	"reflect"
	"unsafe"
)

// Marshal converts a wire struct to its byte-exact little-endian
// representation.
func Marshal(v interface{}) []byte {
	switch val := v.(type) {
	case *MessageHeader:
		return marshalMessageHeader(val)
	case *OmapMsgHeader:
		return marshalOmapHeader(val)
	default:
		return directMarshal(v)
	}
}

// Unmarshal converts bytes back into a wire struct.
func Unmarshal(data []byte, v interface{}) error {
	switch val := v.(type) {
	case *MessageHeader:
		return unmarshalMessageHeader(data, val)
	case *OmapMsgHeader:
		return unmarshalOmapHeader(data, val)
	default:
		return directUnmarshal(data, v)
	}
}

func marshalMessageHeader(h *MessageHeader) []byte {
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint32(buf[0:4], h.Reserved0)
	binary.LittleEndian.PutUint32(buf[4:8], h.Reserved1)
	binary.LittleEndian.PutUint32(buf[8:12], h.MsgSize)
	binary.LittleEndian.PutUint16(buf[12:14], h.Flags)
	binary.LittleEndian.PutUint16(buf[14:16], h.MsgID)
	binary.LittleEndian.PutUint16(buf[16:18], h.DstID)
	binary.LittleEndian.PutUint16(buf[18:20], h.DstProc)
	binary.LittleEndian.PutUint16(buf[20:22], h.ReplyID)
	binary.LittleEndian.PutUint16(buf[22:24], h.ReplyProc)
	binary.LittleEndian.PutUint16(buf[24:26], h.SrcProc)
	binary.LittleEndian.PutUint16(buf[26:28], h.HeapID)
	binary.LittleEndian.PutUint16(buf[28:30], h.SeqNum)
	binary.LittleEndian.PutUint16(buf[30:32], h.Reserved2)
	return buf
}

func unmarshalMessageHeader(data []byte, h *MessageHeader) error {
	if len(data) < 32 {
		return ErrInsufficientData
	}
	h.Reserved0 = binary.LittleEndian.Uint32(data[0:4])
	h.Reserved1 = binary.LittleEndian.Uint32(data[4:8])
	h.MsgSize = binary.LittleEndian.Uint32(data[8:12])
	h.Flags = binary.LittleEndian.Uint16(data[12:14])
	h.MsgID = binary.LittleEndian.Uint16(data[14:16])
	h.DstID = binary.LittleEndian.Uint16(data[16:18])
	h.DstProc = binary.LittleEndian.Uint16(data[18:20])
	h.ReplyID = binary.LittleEndian.Uint16(data[20:22])
	h.ReplyProc = binary.LittleEndian.Uint16(data[22:24])
	h.SrcProc = binary.LittleEndian.Uint16(data[24:26])
	h.HeapID = binary.LittleEndian.Uint16(data[26:28])
	h.SeqNum = binary.LittleEndian.Uint16(data[28:30])
	h.Reserved2 = binary.LittleEndian.Uint16(data[30:32])
	return nil
}

func marshalOmapHeader(h *OmapMsgHeader) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.MsgType))
	binary.LittleEndian.PutUint32(buf[4:8], h.MsgLen)
	return buf
}

func unmarshalOmapHeader(data []byte, h *OmapMsgHeader) error {
	if len(data) < 8 {
		return ErrInsufficientData
	}
	h.MsgType = OmapMsgType(binary.LittleEndian.Uint32(data[0:4]))
	h.MsgLen = binary.LittleEndian.Uint32(data[4:8])
	return nil
}

// directMarshal performs a raw memory copy for structs with no dedicated
// marshal function (used by the small fixed-size reply payloads).
func directMarshal(v interface{}) []byte {
	ptr := reflect.ValueOf(v).Pointer()
	size := int(reflect.TypeOf(v).Elem().Size())

	buf := make([]byte, size)
	src := (*[1 << 20]byte)(unsafe.Pointer(ptr))
	copy(buf, src[:size])
	return buf
}

// directUnmarshal performs a raw memory copy into a struct with no
// dedicated unmarshal function.
func directUnmarshal(data []byte, v interface{}) error {
	rv := reflect.ValueOf(v)
	size := int(rv.Elem().Type().Size())
	if len(data) < size {
		return ErrInsufficientData
	}
	dst := (*[1 << 20]byte)(unsafe.Pointer(rv.Pointer()))
	copy(dst[:size], data[:size])
	return nil
}

// MarshalError is a string-backed error used for wire-format failures.
type MarshalError string

func (e MarshalError) Error() string { return string(e) }

const (
	ErrInsufficientData MarshalError = "insufficient data for unmarshaling"
	ErrInvalidType      MarshalError = "invalid type for marshaling"
)
