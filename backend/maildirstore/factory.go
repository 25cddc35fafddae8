package maildirstore

import (
	"github.com/inkwell/mailstore/session"
	"github.com/inkwell/mailstore/store"
)

// Factory implements session.SessionMapperFactory[ID] over a single shared
// Backend. BaseMessageMapper is handed store.NopTransactor rather than
// Backend itself: a filesystem rename or write is already as atomic as this
// backend gets, so there is nothing for a real Transactor to coordinate.
type Factory struct {
	Backend *Backend
}

func NewFactory(b *Backend) *Factory {
	return &Factory{Backend: b}
}

func (f *Factory) CreateMessageMapper(s *session.Session[ID]) (store.MessageMapper[ID], error) {
	return &store.BaseMessageMapper[ID]{
		BackendLabel: "maildir",
		Store:        f.Backend,
		Registry:     f.Backend.Registry,
		Dispatcher:   f.Backend.Dispatcher,
		Header:       f.Backend.Header,
		Transactor:   store.NopTransactor{},
		Log:          f.Backend.Log,
	}, nil
}

func (f *Factory) CreateMailboxMapper(s *session.Session[ID]) (store.MailboxMapper[ID], error) {
	return &mailboxMapper{b: f.Backend, owner: s.User}, nil
}

func (f *Factory) CreateSubscriptionMapper(s *session.Session[ID]) (session.SubscriptionMapper[ID], error) {
	return &subscriptionMapper{b: f.Backend, owner: s.User}, nil
}
