package timeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/d60-Lab/socialgraph/internal/registry"
	"github.com/d60-Lab/socialgraph/internal/uid"
)

// Action is one denormalized "actor performed verb [on target]" record.
// Once a uid is assigned the action is immutable; fan-out replicates
// the same uid into many indices instead of re-creating the action.
type Action struct {
	UID int64

	Actor    registry.Ref
	ActorUID int64

	Verb string

	// Target is optional: a verb can stand alone.
	Target    *registry.Ref
	TargetUID int64

	At    time.Time
	Extra map[string]string
}

func NewAction(actor registry.Ref, verb string, at time.Time) *Action {
	if at.IsZero() {
		at = time.Now()
	}
	return &Action{Actor: actor, Verb: verb, At: at}
}

func (a *Action) WithTarget(target registry.Ref) *Action {
	a.Target = &target
	return a
}

// Wire is the flat serialized form an action travels and persists as:
// redis hash fields on the storage side, the fan-out job payload on the
// dispatch side.
type Wire map[string]string

func formatTimestamp(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/float64(time.Second), 'f', -1, 64)
}

func parseTimestamp(s string) (time.Time, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, int64(f*float64(time.Second))), nil
}

// wire resolves actor and target uids through the instance manager and
// flattens the action. Called once per Save before the index batch.
func (a *Action) wire(ctx context.Context, instances *uid.Manager) (Wire, error) {
	actorUID, err := instances.MakeUID(ctx, a.Actor)
	if err != nil {
		return nil, err
	}
	a.ActorUID = actorUID

	w := Wire{
		"actor_uid":        strconv.FormatInt(actorUID, 10),
		"actor_identifier": a.Actor.Identifier,
		"actor_object_id":  strconv.FormatInt(a.Actor.ObjectID, 10),
		"verb":             a.Verb,
		"timestamp":        formatTimestamp(a.At),
	}
	if a.UID != 0 {
		w["uid"] = strconv.FormatInt(a.UID, 10)
	}
	if a.Target != nil {
		targetUID, err := instances.MakeUID(ctx, *a.Target)
		if err != nil {
			return nil, err
		}
		a.TargetUID = targetUID
		w["target_uid"] = strconv.FormatInt(targetUID, 10)
		w["target_identifier"] = a.Target.Identifier
		w["target_object_id"] = strconv.FormatInt(a.Target.ObjectID, 10)
	}
	if len(a.Extra) > 0 {
		extra, err := json.Marshal(a.Extra)
		if err != nil {
			return nil, fmt.Errorf("timeline: encode extra data: %w", err)
		}
		w["extra_data"] = string(extra)
	}
	return w, nil
}

// ActionFromWire rebuilds an action from its wire form.
func ActionFromWire(w Wire) (*Action, error) {
	at, err := parseTimestamp(w["timestamp"])
	if err != nil {
		return nil, fmt.Errorf("timeline: malformed timestamp %q: %w", w["timestamp"], err)
	}
	actorObjectID, err := strconv.ParseInt(w["actor_object_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("timeline: malformed actor object id: %w", err)
	}

	a := &Action{
		Actor: registry.Ref{Identifier: w["actor_identifier"], ObjectID: actorObjectID},
		Verb:  w["verb"],
		At:    at,
	}
	if v, ok := w["uid"]; ok {
		if a.UID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("timeline: malformed uid: %w", err)
		}
	}
	if v, ok := w["actor_uid"]; ok {
		if a.ActorUID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("timeline: malformed actor uid: %w", err)
		}
	}
	if v, ok := w["target_identifier"]; ok {
		targetObjectID, err := strconv.ParseInt(w["target_object_id"], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("timeline: malformed target object id: %w", err)
		}
		a.Target = &registry.Ref{Identifier: v, ObjectID: targetObjectID}
		if tu, ok := w["target_uid"]; ok {
			if a.TargetUID, err = strconv.ParseInt(tu, 10, 64); err != nil {
				return nil, fmt.Errorf("timeline: malformed target uid: %w", err)
			}
		}
	}
	if v, ok := w["extra_data"]; ok {
		if err := json.Unmarshal([]byte(v), &a.Extra); err != nil {
			return nil, fmt.Errorf("timeline: decode extra data: %w", err)
		}
	}
	return a, nil
}
