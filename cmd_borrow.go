package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"library-client/library"
	"library-client/manager"
	"library-client/store"
)

func borrowCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "borrow",
		Short: "Record, return and list borrowed books",
	}

	var recordEmail string
	record := &cobra.Command{
		Use:   "record <book-id>",
		Short: "Lend a book to a user (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := a.valueOrPrompt(recordEmail, "Borrower email: ")
			if err != nil {
				return err
			}
			rec, err := a.mgr.Store().Borrows.Record(cmd.Context(), args[0], email)
			if err != nil {
				return err
			}
			if rec != nil {
				fmt.Fprintf(a.out, "Borrow %s due %s\n", rec.ID, formatDate(rec.DueDate))
			}
			return nil
		},
	}
	record.Flags().StringVar(&recordEmail, "email", "", "borrower email")

	var returnEmail string
	ret := &cobra.Command{
		Use:   "return <book-id>",
		Short: "Close a user's open borrow of a book (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := a.valueOrPrompt(returnEmail, "Borrower email: ")
			if err != nil {
				return err
			}
			rec, err := a.mgr.Store().Borrows.Return(cmd.Context(), args[0], email)
			if err != nil {
				return err
			}
			if rec != nil && rec.Fine > 0 {
				fmt.Fprintf(a.out, "Fine due: %s (borrow %s)\n", formatMoney(rec.Fine), rec.ID)
			}
			return nil
		},
	}
	ret.Flags().StringVar(&returnEmail, "email", "", "borrower email")

	mine := &cobra.Command{
		Use:   "mine",
		Short: "List your borrowed books",
		RunE: func(cmd *cobra.Command, _ []string) error {
			u := a.mgr.CurrentUser()
			if u == nil {
				return manager.ErrNotSignedIn
			}
			s := a.mgr.Store().Borrows
			if err := s.FetchMine(cmd.Context(), u.Email); err != nil {
				return err
			}
			a.listBorrows(s.Mine)
			return nil
		},
	}

	all := &cobra.Command{
		Use:   "all",
		Short: "List every borrow record (admin)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := a.mgr.Store().Borrows
			if err := s.FetchAll(cmd.Context()); err != nil {
				return err
			}
			a.listBorrows(s.All)
			return nil
		},
	}

	cmd.AddCommand(record, ret, mine, all)
	return cmd
}

func (a *app) listBorrows(s *store.Slice[[]library.BorrowRecord]) {
	printBorrows(a.out, s.State().Data, a.mgr.Now(), a.mgr.Policy())
}
