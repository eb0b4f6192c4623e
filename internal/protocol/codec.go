package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"

	"group-quiz-hub/internal/domain"
)

type envelope struct {
	Type string `json:"type"`
}

var clientDecoders = map[string]func([]byte) (ClientMessage, error){
	TypePing:                 clientAs[Ping],
	TypeRequestCurrentState:  clientAs[RequestCurrentState],
	TypeAnswerSelected:       decodeAnswerSelected,
	TypeQuestionChanged:      decodeQuestionChanged,
	TypeQuizSubmitted:        clientAs[QuizSubmitted],
	TypeRequestRankingUpdate: clientAs[RequestRankingUpdate],
}

var serverDecoders = map[string]func([]byte) (ServerMessage, error){
	TypePong:            serverAs[Pong],
	TypeCurrentState:    serverAs[CurrentState],
	TypeAnswerUpdated:   serverAs[AnswerUpdated],
	TypeQuestionChanged: serverAs[PeerQuestionChanged],
	TypeUserJoined:      serverAs[UserJoined],
	TypeUserLeft:        serverAs[UserLeft],
	TypeQuizSubmitted:   serverAs[Submitted],
	TypeRankingUpdate:   serverAs[RankingUpdate],
	TypeError:           serverAs[Error],
}

// DecodeClient parses one client envelope. Failures are *domain.ProtocolError.
func DecodeClient(data []byte) (ClientMessage, error) {
	typ, err := peekType(data)
	if err != nil {
		return nil, err
	}
	decode, ok := clientDecoders[typ]
	if !ok {
		return nil, &domain.ProtocolError{Type: typ, Reason: "unsupported message type"}
	}
	return decode(data)
}

// DecodeServer parses one hub envelope. Failures are *domain.ProtocolError.
func DecodeServer(data []byte) (ServerMessage, error) {
	typ, err := peekType(data)
	if err != nil {
		return nil, err
	}
	decode, ok := serverDecoders[typ]
	if !ok {
		return nil, &domain.ProtocolError{Type: typ, Reason: "unsupported message type"}
	}
	return decode(data)
}

// Encode renders a message as a flat envelope: {"type": ..., ...payload}.
func Encode(msg interface{ Type() string }) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(len(body) + len(msg.Type()) + 12)
	buf.WriteString(`{"type":`)
	buf.WriteString(strconv.Quote(msg.Type()))
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func peekType(data []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", &domain.ProtocolError{Reason: "malformed envelope"}
	}
	if env.Type == "" {
		return "", &domain.ProtocolError{Reason: "missing message type"}
	}
	return env.Type, nil
}

func decodeAs[T interface{ Type() string }](data []byte) (T, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, &domain.ProtocolError{Type: msg.Type(), Reason: "invalid payload"}
	}
	return msg, nil
}

func clientAs[T ClientMessage](data []byte) (ClientMessage, error) {
	msg, err := decodeAs[T](data)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func serverAs[T ServerMessage](data []byte) (ServerMessage, error) {
	msg, err := decodeAs[T](data)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func decodeAnswerSelected(data []byte) (ClientMessage, error) {
	msg, err := decodeAs[AnswerSelected](data)
	if err != nil {
		return nil, err
	}
	if msg.QuestionID == "" {
		return nil, &domain.ProtocolError{Type: TypeAnswerSelected, Reason: "question_id is required"}
	}
	return msg, nil
}

func decodeQuestionChanged(data []byte) (ClientMessage, error) {
	msg, err := decodeAs[QuestionChanged](data)
	if err != nil {
		return nil, err
	}
	if msg.QuestionIndex < 0 {
		return nil, &domain.ProtocolError{Type: TypeQuestionChanged, Reason: "question_index must not be negative"}
	}
	return msg, nil
}
