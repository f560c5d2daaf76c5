package replicate

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// childProgressInterval is how many parents between progress log lines.
const childProgressInterval = 100

// syncChildren expands a cursor-replicated parent stream into a dependent
// child collection. Each parent not already processed in this run and not in
// an excluded state triggers one child fetch; every child is tagged with the
// parent's cursor value and bookmarked under the child stream's own key. A
// failed child fetch is recovered locally: the parent may have vanished
// between listing and detail fetch, and that must not abort the run.
func (e *Engine) syncChildren(ctx context.Context, spec *StreamSpec, log *logrus.Entry) error {
	name := spec.Descriptor.Name
	key := spec.Descriptor.ReplicationKey
	parentSpec, ok := Lookup(spec.Parent)
	if !ok {
		return fmt.Errorf("stream %s references unknown parent stream %s", name, spec.Parent)
	}
	parentKey := parentSpec.Descriptor.ReplicationKey
	since := e.state.Bookmark(name, key)

	pager, err := e.client.IncrementalExport(ctx, spec.Parent, since)
	if err != nil {
		return fmt.Errorf("failed to start parent export for %s: %w", name, err)
	}

	seen := newSeenSet()
	var parents int
	for {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to page parent export for %s: %w", name, err)
		}
		if page == nil {
			break
		}
		for _, parent := range page {
			if parents%childProgressInterval == 0 {
				log.WithField("parents", parents).Info("Pushed child records")
			}
			parents++

			if skipParentStatus(spec, parent) {
				continue
			}
			id, ok := recordID(parent)
			if !ok {
				log.Warn("Parent record without id, skipping child fetch")
				continue
			}
			if !seen.add(id) {
				continue
			}

			children, err := e.client.FetchChildren(ctx, id, spec.ChildKind)
			if err != nil {
				switch {
				case errors.Is(err, ErrNotFound):
					log.WithField("parent_id", id).Warn("Parent not found, skipping its children")
				case errors.Is(err, ErrForbidden):
					log.WithField("parent_id", id).Warn("No access to child resource, skipping")
				default:
					log.WithError(err).WithField("parent_id", id).Warn("Child fetch failed, skipping")
				}
				continue
			}

			cursor, ok := payloadTime(parent, parentKey, parentSpec.EpochCursor)
			if !ok {
				log.WithField("parent_id", id).Warn("Parent record without cursor value, skipping its children")
				continue
			}
			for _, child := range children {
				child[key] = cursor.Unix()
				e.state.Advance(name, key, cursor)
				if err := e.emit(spec, child); err != nil {
					return err
				}
			}
		}
	}

	log.WithField("parents", parents).Info("Child expansion finished")
	return e.checkpoint(ctx)
}

func skipParentStatus(spec *StreamSpec, parent Payload) bool {
	if len(spec.SkipStatuses) == 0 {
		return false
	}
	status, _ := parent["status"].(string)
	for _, skip := range spec.SkipStatuses {
		if status == skip {
			return true
		}
	}
	return false
}
