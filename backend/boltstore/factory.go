package boltstore

import (
	"github.com/inkwell/mailstore/session"
	"github.com/inkwell/mailstore/store"
)

// Factory implements session.SessionMapperFactory[int64] over a single
// shared Backend: every mapper it hands out is bound to the owner of the
// session it was created for.
type Factory struct {
	Backend *Backend
}

func NewFactory(b *Backend) *Factory {
	return &Factory{Backend: b}
}

func (f *Factory) CreateMessageMapper(s *session.Session[int64]) (store.MessageMapper[int64], error) {
	return &store.BaseMessageMapper[int64]{
		BackendLabel: "bolt",
		Store:        f.Backend,
		Registry:     f.Backend.Registry,
		Dispatcher:   f.Backend.Dispatcher,
		Header:       f.Backend.Header,
		Transactor:   f.Backend,
		Log:          f.Backend.Log,
	}, nil
}

func (f *Factory) CreateMailboxMapper(s *session.Session[int64]) (store.MailboxMapper[int64], error) {
	return &mailboxMapper{b: f.Backend, owner: s.User}, nil
}

func (f *Factory) CreateSubscriptionMapper(s *session.Session[int64]) (session.SubscriptionMapper[int64], error) {
	return &subscriptionMapper{b: f.Backend, owner: s.User}, nil
}
