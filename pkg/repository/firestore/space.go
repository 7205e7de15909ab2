package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type spaceMemberDoc struct {
	AgentID    string    `firestore:"AgentID"`
	Permission string    `firestore:"Permission"`
	JoinedAt   time.Time `firestore:"JoinedAt"`
}

// spaceDoc duplicates member IDs into MemberIDs so membership queries can use
// array-contains without unpacking the member entries.
type spaceDoc struct {
	ID             string           `firestore:"ID"`
	Name           string           `firestore:"Name"`
	Description    string           `firestore:"Description,omitempty"`
	OwnerID        string           `firestore:"OwnerID"`
	Members        []spaceMemberDoc `firestore:"Members"`
	MemberIDs      []string         `firestore:"MemberIDs"`
	DefaultSharing string           `firestore:"DefaultSharing,omitempty"`
	CreatedAt      time.Time        `firestore:"CreatedAt"`
	UpdatedAt      time.Time        `firestore:"UpdatedAt"`
}

func toSpaceDoc(space *model.SharedSpace) *spaceDoc {
	doc := &spaceDoc{
		ID:             string(space.ID),
		Name:           space.Name,
		Description:    space.Description,
		OwnerID:        string(space.OwnerID),
		Members:        make([]spaceMemberDoc, len(space.Members)),
		MemberIDs:      make([]string, len(space.Members)),
		DefaultSharing: string(space.DefaultSharing),
		CreatedAt:      space.CreatedAt,
		UpdatedAt:      space.UpdatedAt,
	}

	for i, member := range space.Members {
		doc.Members[i] = spaceMemberDoc{
			AgentID:    string(member.AgentID),
			Permission: string(member.Permission),
			JoinedAt:   member.JoinedAt,
		}
		doc.MemberIDs[i] = string(member.AgentID)
	}

	return doc
}

func fromSpaceDoc(d *spaceDoc) *model.SharedSpace {
	space := &model.SharedSpace{
		ID:             types.SpaceID(d.ID),
		Name:           d.Name,
		Description:    d.Description,
		OwnerID:        types.AgentID(d.OwnerID),
		Members:        make([]model.SpaceMember, len(d.Members)),
		DefaultSharing: types.SharingPolicy(d.DefaultSharing),
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}

	for i, member := range d.Members {
		space.Members[i] = model.SpaceMember{
			AgentID:    types.AgentID(member.AgentID),
			Permission: types.Permission(member.Permission),
			JoinedAt:   member.JoinedAt,
		}
	}

	return space
}

func docToSpace(doc *firestore.DocumentSnapshot) (*model.SharedSpace, error) {
	var d spaceDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, err
	}
	return fromSpaceDoc(&d), nil
}

type spaceRepository struct {
	client           *firestore.Client
	collectionPrefix string
}

func newSpaceRepository(client *firestore.Client) *spaceRepository {
	return &spaceRepository{
		client: client,
	}
}

func (r *spaceRepository) collection() *firestore.CollectionRef {
	return r.client.Collection(r.collectionPrefix + "spaces")
}

func (r *spaceRepository) Create(ctx context.Context, space *model.SharedSpace) error {
	docRef := r.collection().Doc(string(space.ID))
	if _, err := docRef.Create(ctx, toSpaceDoc(space)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return goerr.Wrap(model.ErrAlreadyExists, "space already exists", goerr.V(model.SpaceIDKey, space.ID))
		}
		return goerr.Wrap(err, "failed to create space", goerr.V(model.SpaceIDKey, space.ID))
	}

	return nil
}

func (r *spaceRepository) Get(ctx context.Context, id types.SpaceID) (*model.SharedSpace, error) {
	docRef := r.collection().Doc(string(id))
	doc, err := docRef.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrNotFound, "space not found", goerr.V(model.SpaceIDKey, id))
		}
		return nil, goerr.Wrap(err, "failed to get space", goerr.V(model.SpaceIDKey, id))
	}

	space, err := docToSpace(doc)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal space", goerr.V(model.SpaceIDKey, id))
	}

	return space, nil
}

func (r *spaceRepository) Update(ctx context.Context, space *model.SharedSpace) error {
	docRef := r.collection().Doc(string(space.ID))

	_, err := docRef.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(model.ErrNotFound, "space not found", goerr.V(model.SpaceIDKey, space.ID))
		}
		return goerr.Wrap(err, "failed to get space", goerr.V(model.SpaceIDKey, space.ID))
	}

	if _, err := docRef.Set(ctx, toSpaceDoc(space)); err != nil {
		return goerr.Wrap(err, "failed to update space", goerr.V(model.SpaceIDKey, space.ID))
	}

	return nil
}

func (r *spaceRepository) Delete(ctx context.Context, id types.SpaceID) error {
	docRef := r.collection().Doc(string(id))

	_, err := docRef.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(model.ErrNotFound, "space not found", goerr.V(model.SpaceIDKey, id))
		}
		return goerr.Wrap(err, "failed to get space", goerr.V(model.SpaceIDKey, id))
	}

	if _, err := docRef.Delete(ctx); err != nil {
		return goerr.Wrap(err, "failed to delete space", goerr.V(model.SpaceIDKey, id))
	}

	return nil
}

func (r *spaceRepository) List(ctx context.Context) ([]*model.SharedSpace, error) {
	query := r.collection().OrderBy("CreatedAt", firestore.Desc)
	return r.querySpaces(ctx, query)
}

func (r *spaceRepository) ListByMember(ctx context.Context, agentID types.AgentID) ([]*model.SharedSpace, error) {
	query := r.collection().
		Where("MemberIDs", "array-contains", string(agentID)).
		OrderBy("CreatedAt", firestore.Desc)
	return r.querySpaces(ctx, query)
}

func (r *spaceRepository) querySpaces(ctx context.Context, query firestore.Query) ([]*model.SharedSpace, error) {
	iter := query.Documents(ctx)
	defer iter.Stop()

	spaces := make([]*model.SharedSpace, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate spaces")
		}

		space, err := docToSpace(doc)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal space")
		}

		spaces = append(spaces, space)
	}

	return spaces, nil
}
