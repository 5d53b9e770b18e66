package store

import (
	"context"

	"library-client/library"
)

type UsersSlice struct {
	*Slice[[]library.User]
}

// FetchAll loads every account. Admin only.
func (u *UsersSlice) FetchAll(ctx context.Context) error {
	return u.Load(ctx, u.env.client.Users)
}

func (u *UsersSlice) AddAdmin(ctx context.Context, in library.AdminInput) (*library.User, error) {
	return Mutate(ctx, u.Slice, u.addAdmin(in), func(users []library.User, added *library.User) []library.User {
		if added == nil {
			return users
		}
		return append(cloneSlice(users), *added)
	})
}

func (u *UsersSlice) addAdmin(in library.AdminInput) func(context.Context) (*library.User, string, error) {
	return func(ctx context.Context) (*library.User, string, error) {
		return u.env.client.AddAdmin(ctx, in)
	}
}

func cloneSlice[E any](s []E) []E {
	return append([]E(nil), s...)
}
