package oracle

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"VeilSum/internal/types"
)

// Message types of the ledger/oracle protocol. Every message is a type byte
// followed by a FlatBuffers table.
const (
	msgTypeTask        = 0x01 // DecryptionTask, ledger → oracle
	msgTypeTaskAck     = 0x02 // TaskAck, oracle → ledger
	msgTypeDelivery    = 0x03 // Delivery, oracle → ledger
	msgTypeDeliveryAck = 0x04 // DeliveryAck, ledger → oracle
)

// taskAck is the decoded reply to a decryption task.
type taskAck struct {
	Nonce     uint64 // Nonce echoes the task nonce
	RequestID string // RequestID is the assigned correlation id
	Error     string // Error is set when the task was refused
}

// delivery is a decoded oracle delivery.
type delivery struct {
	RequestID  string // RequestID is the resolved request
	Cleartexts []byte // Cleartexts are the decrypted words
	Proof      []byte // Proof is the committee proof
}

// deliveryAck is the decoded ledger verdict on a delivery.
type deliveryAck struct {
	RequestID string // RequestID is the resolved request
	ErrorKind string // ErrorKind is the rejection kind, empty on success
}

// finish prefixes the finished table with its message type.
func finish(builder *flatbuffers.Builder, root flatbuffers.UOffsetT, msgType byte) []byte {
	builder.Finish(root)
	body := builder.FinishedBytes()

	buf := make([]byte, 1+len(body))
	buf[0] = msgType
	copy(buf[1:], body)

	return buf
}

// body strips and checks the message type.
func body(data []byte, msgType byte) ([]byte, error) {
	if len(data) < 1+flatbuffers.SizeUOffsetT {
		return nil, fmt.Errorf("message too short: %d bytes", len(data))
	}

	if data[0] != msgType {
		return nil, fmt.Errorf("invalid message type: 0x%02x", data[0])
	}

	return data[1:], nil
}

// messageType returns the type byte of an encoded message.
func messageType(data []byte) (byte, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("empty message")
	}
	return data[0], nil
}

// recoverMalformed turns a FlatBuffers bounds panic into an error.
func recoverMalformed(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("malformed message: %v", r)
	}
}

func encodeTask(nonce uint64, ciphertexts [][]byte) []byte {
	builder := flatbuffers.NewBuilder(256)

	offsets := make([]flatbuffers.UOffsetT, len(ciphertexts))
	for i, ct := range ciphertexts {
		data := builder.CreateByteVector(ct)
		types.CiphertextStart(builder)
		types.CiphertextAddData(builder, data)
		offsets[i] = types.CiphertextEnd(builder)
	}

	types.DecryptionTaskStartCiphertextsVector(builder, len(offsets))
	for i := len(offsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(offsets[i])
	}
	vec := builder.EndVector(len(offsets))

	types.DecryptionTaskStart(builder)
	types.DecryptionTaskAddNonce(builder, nonce)
	types.DecryptionTaskAddCiphertexts(builder, vec)

	return finish(builder, types.DecryptionTaskEnd(builder), msgTypeTask)
}

func decodeTask(data []byte) (nonce uint64, ciphertexts [][]byte, err error) {
	defer recoverMalformed(&err)

	buf, err := body(data, msgTypeTask)
	if err != nil {
		return 0, nil, err
	}

	task := types.GetRootAsDecryptionTask(buf, 0)

	var ct types.Ciphertext
	ciphertexts = make([][]byte, task.CiphertextsLength())
	for i := range ciphertexts {
		if !task.Ciphertexts(&ct, i) {
			return 0, nil, fmt.Errorf("missing ciphertext %d", i)
		}
		ciphertexts[i] = append([]byte(nil), ct.DataBytes()...)
	}

	return task.Nonce(), ciphertexts, nil
}

func encodeTaskAck(ack taskAck) []byte {
	builder := flatbuffers.NewBuilder(128)

	id := builder.CreateString(ack.RequestID)
	msg := builder.CreateString(ack.Error)

	types.TaskAckStart(builder)
	types.TaskAckAddNonce(builder, ack.Nonce)
	types.TaskAckAddRequestId(builder, id)
	types.TaskAckAddError(builder, msg)

	return finish(builder, types.TaskAckEnd(builder), msgTypeTaskAck)
}

func decodeTaskAck(data []byte) (ack taskAck, err error) {
	defer recoverMalformed(&err)

	buf, err := body(data, msgTypeTaskAck)
	if err != nil {
		return taskAck{}, err
	}

	a := types.GetRootAsTaskAck(buf, 0)

	return taskAck{
		Nonce:     a.Nonce(),
		RequestID: string(a.RequestId()),
		Error:     string(a.Error()),
	}, nil
}

func encodeDelivery(d delivery) []byte {
	builder := flatbuffers.NewBuilder(256)

	id := builder.CreateString(d.RequestID)
	cleartexts := builder.CreateByteVector(d.Cleartexts)
	proof := builder.CreateByteVector(d.Proof)

	types.DeliveryStart(builder)
	types.DeliveryAddRequestId(builder, id)
	types.DeliveryAddCleartexts(builder, cleartexts)
	types.DeliveryAddProof(builder, proof)

	return finish(builder, types.DeliveryEnd(builder), msgTypeDelivery)
}

func decodeDelivery(data []byte) (d delivery, err error) {
	defer recoverMalformed(&err)

	buf, err := body(data, msgTypeDelivery)
	if err != nil {
		return delivery{}, err
	}

	m := types.GetRootAsDelivery(buf, 0)

	return delivery{
		RequestID:  string(m.RequestId()),
		Cleartexts: append([]byte(nil), m.CleartextsBytes()...),
		Proof:      append([]byte(nil), m.ProofBytes()...),
	}, nil
}

func encodeDeliveryAck(ack deliveryAck) []byte {
	builder := flatbuffers.NewBuilder(64)

	id := builder.CreateString(ack.RequestID)
	kind := builder.CreateString(ack.ErrorKind)

	types.DeliveryAckStart(builder)
	types.DeliveryAckAddRequestId(builder, id)
	types.DeliveryAckAddErrorKind(builder, kind)

	return finish(builder, types.DeliveryAckEnd(builder), msgTypeDeliveryAck)
}

func decodeDeliveryAck(data []byte) (ack deliveryAck, err error) {
	defer recoverMalformed(&err)

	buf, err := body(data, msgTypeDeliveryAck)
	if err != nil {
		return deliveryAck{}, err
	}

	a := types.GetRootAsDeliveryAck(buf, 0)

	return deliveryAck{
		RequestID: string(a.RequestId()),
		ErrorKind: string(a.ErrorKind()),
	}, nil
}
