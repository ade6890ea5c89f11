// pkg/lti/uow.go
package lti

import (
	"context"
	"fmt"
)

// unitOfWork buffers the writes of one launch so they can be committed in a
// single transaction once the launch has been accepted.
type unitOfWork struct {
	ops []func(ctx context.Context, s Store) error
}

func (u *unitOfWork) add(op func(ctx context.Context, s Store) error) {
	u.ops = append(u.ops, op)
}

func (u *unitOfWork) saveConsumer(c *ToolConsumer) {
	u.add(func(ctx context.Context, s Store) error {
		if err := s.SaveToolConsumer(ctx, c); err != nil {
			return fmt.Errorf("save consumer %s: %w", c.Key, err)
		}
		return nil
	})
}

func (u *unitOfWork) saveLink(l *ResourceLink) {
	u.add(func(ctx context.Context, s Store) error {
		if err := s.SaveResourceLink(ctx, l); err != nil {
			return fmt.Errorf("save resource link %s/%s: %w", l.ConsumerKey, l.ID, err)
		}
		return nil
	})
}

func (u *unitOfWork) saveUser(usr *User) {
	u.add(func(ctx context.Context, s Store) error {
		if err := s.SaveUser(ctx, usr); err != nil {
			return fmt.Errorf("save user %s: %w", usr.ID, err)
		}
		return nil
	})
}

func (u *unitOfWork) deleteUser(usr *User) {
	u.add(func(ctx context.Context, s Store) error {
		if err := s.DeleteUser(ctx, usr); err != nil {
			return fmt.Errorf("delete user %s: %w", usr.ID, err)
		}
		return nil
	})
}

func (u *unitOfWork) deleteShareKey(id string) {
	u.add(func(ctx context.Context, s Store) error {
		if err := s.DeleteShareKey(ctx, id); err != nil {
			return fmt.Errorf("delete share key: %w", err)
		}
		return nil
	})
}

// commit applies the buffered writes in order inside one transaction.
func (u *unitOfWork) commit(ctx context.Context, store Store) error {
	if len(u.ops) == 0 {
		return nil
	}
	return store.Atomically(ctx, func(tx Store) error {
		for _, op := range u.ops {
			if err := op(ctx, tx); err != nil {
				return err
			}
		}
		return nil
	})
}
