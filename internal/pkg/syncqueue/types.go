// Package syncqueue buffers writes made while the API is unreachable and
// replays them in submission order once connectivity returns.
package syncqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
)

type Entity string

const (
	EntityProject  Entity = "project"
	EntityTemplate Entity = "template"
)

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Ref identifies an item that is either still pending under a temporary id
// or committed under its server id.
type Ref struct {
	tempID string
	id     uint
}

func Pending(tempID string) Ref { return Ref{tempID: tempID} }
func Committed(id uint) Ref     { return Ref{id: id} }

// NewTempID returns a temporary id for an optimistic create.
func NewTempID() string { return "tmp-" + uuid.NewString() }

func (r Ref) IsPending() bool   { return r.tempID != "" }
func (r Ref) IsCommitted() bool { return r.tempID == "" && r.id != 0 }
func (r Ref) IsZero() bool      { return r.tempID == "" && r.id == 0 }
func (r Ref) TempID() string    { return r.tempID }
func (r Ref) ID() uint          { return r.id }

func (r Ref) String() string {
	switch {
	case r.IsPending():
		return r.tempID
	case r.IsCommitted():
		return fmt.Sprint(r.id)
	default:
		return "-"
	}
}

type refJSON struct {
	TempID string `json:"temp_id,omitempty"`
	ID     uint   `json:"id,omitempty"`
}

func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(refJSON{TempID: r.tempID, ID: r.id})
}

func (r *Ref) UnmarshalJSON(data []byte) error {
	var v refJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v.TempID != "" && v.ID != 0 {
		return errors.New("ref cannot be pending and committed")
	}
	*r = Ref{tempID: v.TempID, id: v.ID}
	return nil
}

// Change is one buffered write.
type Change struct {
	ID           string          `json:"id"`
	Entity       Entity          `json:"entity"`
	Action       Action          `json:"action"`
	Target       Ref             `json:"target"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	AttemptCount int             `json:"attempt_count"`
	LastError    string          `json:"last_error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (c Change) Validate() error {
	switch c.Entity {
	case EntityProject, EntityTemplate:
	default:
		return apperror.Newf(apperror.KindValidation, "unknown entity %q", c.Entity)
	}
	switch c.Action {
	case ActionCreate:
		if c.Target.IsCommitted() {
			return apperror.New(apperror.KindValidation, "create must target a pending ref")
		}
	case ActionUpdate, ActionDelete:
		if c.Target.IsZero() {
			return apperror.Newf(apperror.KindValidation, "%s needs a target", c.Action)
		}
	default:
		return apperror.Newf(apperror.KindValidation, "unknown action %q", c.Action)
	}
	return nil
}

func (c Change) Describe() string {
	return strings.Join([]string{string(c.Action), string(c.Entity), c.Target.String()}, " ")
}

// Failure is a change the server rejected. It stays visible until dismissed.
type Failure struct {
	Change   Change        `json:"change"`
	Kind     apperror.Kind `json:"kind"`
	Message  string        `json:"message"`
	FailedAt time.Time     `json:"failed_at"`
}
