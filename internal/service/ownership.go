package service

import (
	"context"
	"fmt"
	"strings"

	appErrors "github.com/unclebandit/followup-engine/internal/errors"
	"github.com/unclebandit/followup-engine/internal/repository"
)

// Resource names one link of the ownership chain.
type Resource struct {
	Kind string
	ID   int64
	// Key is used instead of ID for string-keyed resources (deliveries).
	Key string
}

func SequenceResource(id int64) Resource  { return Resource{Kind: "sequence", ID: id} }
func MessageResource(id int64) Resource   { return Resource{Kind: "message", ID: id} }
func ProspectResource(id int64) Resource  { return Resource{Kind: "prospect", ID: id} }
func DeliveryResource(id string) Resource { return Resource{Kind: "delivery", Key: id} }

func (r Resource) String() string {
	if r.Key != "" {
		return fmt.Sprintf("%s %s", r.Kind, r.Key)
	}
	return fmt.Sprintf("%s %d", r.Kind, r.ID)
}

// Ownership checks that a principal owns a resource by walking
// delivery -> message -> sequence -> sender config -> principal.
type Ownership struct {
	Repo repository.OwnershipRepositoryInterface
}

// Require returns Unauthorized when the chain is broken or ends at another
// principal. Lookup failures other than a missing row are returned as is.
func (o *Ownership) Require(ctx context.Context, principal string, r Resource) error {
	if strings.TrimSpace(principal) == "" {
		return appErrors.Unauthorized("missing principal")
	}

	var (
		owner string
		err   error
	)
	switch r.Kind {
	case "sequence":
		owner, err = o.Repo.SequenceOwner(ctx, r.ID)
	case "message":
		owner, err = o.Repo.MessageOwner(ctx, r.ID)
	case "prospect":
		owner, err = o.Repo.ProspectOwner(ctx, r.ID)
	case "delivery":
		owner, err = o.Repo.DeliveryOwner(ctx, r.Key)
	default:
		return fmt.Errorf("unknown resource kind %q", r.Kind)
	}
	if err != nil {
		if appErrors.IsNotFound(err) {
			return appErrors.Unauthorized(r.String() + " is not accessible")
		}
		return err
	}
	if owner != principal {
		return appErrors.Unauthorized(r.String() + " is not accessible")
	}
	return nil
}
