// Package uow implements the unit of work pattern on Bun transactions.
//
//	u := uow.New(db)
//	err := u.Run(ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
//		users, err := uow.Repo[User](u)
//		if err != nil {
//			return err
//		}
//		_, err = users.Create(ctx, query.Values{"name": "John"})
//		return err
//	})
package uow
