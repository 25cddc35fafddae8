package maildirstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/exp/slices"
)

// subscriptionMapper implements session.SubscriptionMapper[ID]. There is no
// database row to hold this, so it's a JSON sidecar of subscribed paths per
// owner, written the same atomic-rename way as mailstore.json.
type subscriptionMapper struct {
	b     *Backend
	owner string
}

func (m *subscriptionMapper) path() string {
	return filepath.Join(m.b.Root, sanitize(m.owner), "subscriptions.json")
}

func (m *subscriptionMapper) read() ([]string, error) {
	b, err := os.ReadFile(m.path())
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var paths []string
	if err := json.Unmarshal(b, &paths); err != nil {
		return nil, err
	}
	return paths, nil
}

func (m *subscriptionMapper) write(paths []string) error {
	dir := filepath.Join(m.b.Root, sanitize(m.owner))
	if err := os.MkdirAll(dir, 0770); err != nil {
		return err
	}
	b, err := json.Marshal(paths)
	if err != nil {
		return err
	}
	tmp := m.path() + ".tmp"
	if err := os.WriteFile(tmp, b, 0660); err != nil {
		return err
	}
	return os.Rename(tmp, m.path())
}

func (m *subscriptionMapper) Subscribe(ctx context.Context, path string) error {
	paths, err := m.read()
	if err != nil {
		return err
	}
	if slices.Contains(paths, path) {
		return nil
	}
	paths = append(paths, path)
	sort.Strings(paths)
	return m.write(paths)
}

func (m *subscriptionMapper) Unsubscribe(ctx context.Context, path string) error {
	paths, err := m.read()
	if err != nil {
		return err
	}
	out := paths[:0]
	for _, p := range paths {
		if p != path {
			out = append(out, p)
		}
	}
	return m.write(out)
}

func (m *subscriptionMapper) List(ctx context.Context) ([]string, error) {
	return m.read()
}
