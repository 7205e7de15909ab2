package firestore

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type confirmationDoc struct {
	Token     string     `firestore:"Token"`
	Scope     string     `firestore:"Scope"`
	Subject   string     `firestore:"Subject"`
	AgentID   string     `firestore:"AgentID"`
	CreatedAt time.Time  `firestore:"CreatedAt"`
	ExpiresAt time.Time  `firestore:"ExpiresAt"`
	UsedAt    *time.Time `firestore:"UsedAt,omitempty"`
}

func toConfirmationDoc(conf *model.Confirmation) *confirmationDoc {
	doc := &confirmationDoc{
		Token:     conf.Token,
		Scope:     string(conf.Scope),
		Subject:   conf.Subject,
		AgentID:   string(conf.AgentID),
		CreatedAt: conf.CreatedAt,
		ExpiresAt: conf.ExpiresAt,
	}
	if conf.UsedAt != nil {
		usedAt := *conf.UsedAt
		doc.UsedAt = &usedAt
	}
	return doc
}

func fromConfirmationDoc(d *confirmationDoc) *model.Confirmation {
	conf := &model.Confirmation{
		Token:     d.Token,
		Scope:     model.ConfirmScope(d.Scope),
		Subject:   d.Subject,
		AgentID:   types.AgentID(d.AgentID),
		CreatedAt: d.CreatedAt,
		ExpiresAt: d.ExpiresAt,
	}
	if d.UsedAt != nil {
		usedAt := *d.UsedAt
		conf.UsedAt = &usedAt
	}
	return conf
}

func (f *Firestore) confirmationsCollection() string {
	return f.collectionPrefix + "confirmations"
}

func (f *Firestore) PutConfirmation(ctx context.Context, conf *model.Confirmation) error {
	if conf.Token == "" {
		return goerr.New("confirmation token is required", goerr.T(types.ErrTagValidation))
	}

	docRef := f.client.Collection(f.confirmationsCollection()).Doc(conf.Token)
	if _, err := docRef.Set(ctx, toConfirmationDoc(conf)); err != nil {
		return goerr.Wrap(err, "failed to put confirmation to firestore")
	}

	return nil
}

func (f *Firestore) GetConfirmation(ctx context.Context, token string) (*model.Confirmation, error) {
	docRef := f.client.Collection(f.confirmationsCollection()).Doc(token)
	doc, err := docRef.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrNotFound, "confirmation not found", goerr.V(model.TokenKey, token))
		}
		return nil, goerr.Wrap(err, "failed to get confirmation from firestore")
	}

	var d confirmationDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal confirmation")
	}

	return fromConfirmationDoc(&d), nil
}

func (f *Firestore) DeleteConfirmation(ctx context.Context, token string) error {
	docRef := f.client.Collection(f.confirmationsCollection()).Doc(token)

	_, err := docRef.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(model.ErrNotFound, "confirmation not found", goerr.V(model.TokenKey, token))
		}
		return goerr.Wrap(err, "failed to get confirmation from firestore")
	}

	if _, err := docRef.Delete(ctx); err != nil {
		return goerr.Wrap(err, "failed to delete confirmation from firestore")
	}

	return nil
}
