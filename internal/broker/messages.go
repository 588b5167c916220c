package broker

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/5l1v3r1/tellecast-sub000/internal/models"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

// Subjects carried on the ws exchange.
const (
	SubjectUsersLocations     = "users_locations"
	SubjectUsersLocationsPost = "users_locations_post"
	SubjectUsersLocationsGet  = "users_locations_get"
	SubjectNotifications      = "notifications"
	SubjectToken              = "token"
	SubjectUsers              = "users"
	SubjectClose              = "close"
	SubjectBroadcast          = "broadcast"
)

// Envelope is the legacy task wrapper {"args": [payload]}.
type Envelope struct {
	Args []json.RawMessage `json:"args"`
}

// Frame is the {subject, body} shape shared by the ws exchange and the
// client wire protocol.
type Frame struct {
	Subject string          `json:"subject"`
	Body    json.RawMessage `json:"body"`
}

// Message is a decoded broker payload.
type Message interface {
	isMessage()
}

// UsersLocations is a fix to fan out to gateway sessions.
type UsersLocations struct {
	Fix models.LocationFix
	Raw json.RawMessage // the fix as published, forwarded to clients verbatim
}

// Notifications names a persisted notification to deliver.
type Notifications struct {
	ID int64
}

// Thumbnail asks for derivatives of an object.
type Thumbnail struct {
	Ref models.ObjectRef
}

// Push is a device push job.
type Push struct {
	Job models.PushJob
}

// Command is a management instruction for gateway processes.
type Command struct {
	Subject string
	Body    json.RawMessage
}

func (UsersLocations) isMessage() {}
func (Notifications) isMessage()  {}
func (Thumbnail) isMessage()      {}
func (Push) isMessage()           {}
func (Command) isMessage()        {}

// EncodeTask wraps payload in the args envelope.
func EncodeTask(payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("broker: encode task: %w", err)
	}
	return json.Marshal(Envelope{Args: []json.RawMessage{raw}})
}

// EncodeWS builds a ws frame whose body is itself a JSON string holding
// the JSON encoding of body.
func EncodeWS(subject string, body interface{}) ([]byte, error) {
	inner, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("broker: encode ws body: %w", err)
	}
	outer, err := json.Marshal(string(inner))
	if err != nil {
		return nil, fmt.Errorf("broker: encode ws body: %w", err)
	}
	return json.Marshal(Frame{Subject: subject, Body: outer})
}

// unwrap returns the first args element when data is an Envelope and data
// itself otherwise.
func unwrap(data []byte) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	args, ok := fields["args"]
	if !ok {
		return data, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(args, &list); err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("empty args")
	}
	return list[0], nil
}

// innerBody decodes a body that is either a JSON string holding JSON, or
// raw JSON.
func innerBody(body json.RawMessage) json.RawMessage {
	var s string
	if err := json.Unmarshal(body, &s); err == nil {
		return json.RawMessage(s)
	}
	return body
}

// Decode turns a delivery body from queue into a Message. Malformed
// payloads are Permanent errors.
func Decode(queue string, data []byte) (Message, error) {
	payload, err := unwrap(data)
	if err != nil {
		return nil, apperr.Wrap(apperr.Permanent, "broker: malformed payload", err)
	}

	switch queue {
	case QueuePushNotifications:
		var job models.PushJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return nil, apperr.Wrap(apperr.Permanent, "broker: malformed push job", err)
		}
		if job.UserID <= 0 {
			return nil, apperr.E(apperr.Permanent, "broker: push job without user_id")
		}
		return Push{Job: job}, nil

	case QueueThumbnails:
		var ref models.ObjectRef
		if err := json.Unmarshal(payload, &ref); err != nil {
			return nil, apperr.Wrap(apperr.Permanent, "broker: malformed thumbnail job", err)
		}
		if ref.Kind == "" || ref.ID <= 0 {
			return nil, apperr.E(apperr.Permanent, "broker: thumbnail job without kind/id")
		}
		return Thumbnail{Ref: ref}, nil
	}

	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return nil, apperr.Wrap(apperr.Permanent, "broker: malformed frame", err)
	}

	if queue == QueueWebsocketsCommands {
		return Command{Subject: frame.Subject, Body: innerBody(frame.Body)}, nil
	}

	switch frame.Subject {
	case SubjectUsersLocations:
		raw := innerBody(frame.Body)
		var fix models.LocationFix
		if err := json.Unmarshal(raw, &fix); err != nil {
			return nil, apperr.Wrap(apperr.Permanent, "broker: malformed users_locations body", err)
		}
		return UsersLocations{Fix: fix, Raw: raw}, nil

	case SubjectNotifications:
		raw := innerBody(frame.Body)
		var id int64
		if err := json.Unmarshal(raw, &id); err != nil {
			// Legacy publishers send the id as a bare string.
			var s string
			if json.Unmarshal(raw, &s) != nil {
				return nil, apperr.Wrap(apperr.Permanent, "broker: malformed notifications body", err)
			}
			if id, err = strconv.ParseInt(s, 10, 64); err != nil {
				return nil, apperr.Wrap(apperr.Permanent, "broker: malformed notifications body", err)
			}
		}
		return Notifications{ID: id}, nil
	}

	return nil, apperr.E(apperr.Permanent, "broker: unknown subject %q", frame.Subject)
}
