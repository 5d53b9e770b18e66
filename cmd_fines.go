package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"library-client/library"
	"library-client/manager"
)

func finesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fines",
		Short: "Inspect and pay fines",
	}

	calc := &cobra.Command{
		Use:   "calc <borrow-id>",
		Short: "Ask the server for the fine on a borrow record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.mgr.Store().Fines.Calculate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Borrow %s: fine %s, %d days overdue, payment %s\n",
				c.BorrowID, formatMoney(c.Fine), c.DaysOverdue, orDash(c.Status))
			return nil
		},
	}

	summary := &cobra.Command{
		Use:   "summary [user-id]",
		Short: "Total, paid and pending fines of a user (default: you)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var userID string
			if len(args) == 1 {
				userID = args[0]
			} else {
				u := a.mgr.CurrentUser()
				if u == nil {
					return manager.ErrNotSignedIn
				}
				userID = u.ID
			}
			s, err := a.mgr.Store().Fines.Summary(cmd.Context(), userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Total:   %s\nPaid:    %s\nPending: %s\n",
				formatMoney(s.TotalFines), formatMoney(s.PaidFines), formatMoney(s.PendingFines))
			if len(s.Records) > 0 {
				fmt.Fprintln(a.out)
				printBorrows(a.out, s.Records, a.mgr.Now(), a.mgr.Policy())
			}
			return nil
		},
	}

	analytics := &cobra.Command{
		Use:   "analytics",
		Short: "Library-wide collection report (admin)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := a.mgr.Store().Fines.Analytics(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Collected:        %s\n", formatMoney(r.TotalCollected))
			fmt.Fprintf(a.out, "Pending:          %s\n", formatMoney(r.PendingAmount))
			fmt.Fprintf(a.out, "Overdue records:  %d\n", r.OverdueRecords)
			fmt.Fprintf(a.out, "Payments:         %d\n", r.PaymentsCount)
			fmt.Fprintf(a.out, "Average fine:     %s\n", formatMoney(r.AverageFine))
			fmt.Fprintf(a.out, "Collection ratio: %.0f%%\n", r.CollectionRatio*100)
			return nil
		},
	}

	outstanding := &cobra.Command{
		Use:   "outstanding",
		Short: "List records with an unpaid fine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			recs, err := a.mgr.Outstanding(cmd.Context())
			if err != nil {
				return err
			}
			printBorrows(a.out, recs, a.mgr.Now(), a.mgr.Policy())
			var total float64
			for _, r := range recs {
				total += r.Fine
			}
			fmt.Fprintf(a.out, "\nOutstanding total: %s\n", formatMoney(total))
			return nil
		},
	}

	pay := &cobra.Command{
		Use:   "pay <borrow-id>",
		Short: "Open a payment order for a fine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.mgr.Store().Fines.CreateOrder(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			// amounts come back in the smallest currency unit
			fmt.Fprintf(a.out, "Order %s: %s %s\n", o.ID, formatMoney(o.Amount/100), strings.ToUpper(o.Currency))
			if o.Key != "" {
				fmt.Fprintf(a.out, "Gateway key: %s\n", o.Key)
			}
			fmt.Fprintf(a.out, "After checkout run:\n  library payments verify --order %s --borrow %s --payment <payment-id> --signature <signature>\n", o.ID, args[0])
			return nil
		},
	}

	cmd.AddCommand(calc, summary, analytics, outstanding, pay)
	return cmd
}

func paymentsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payments",
		Short: "Payment gateway callbacks",
	}
	var in library.PaymentVerification
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Confirm a completed gateway checkout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.mgr.Store().Fines.VerifyPayment(cmd.Context(), in)
			if err != nil {
				return err
			}
			if p != nil {
				fmt.Fprintf(a.out, "Payment %s: %s %s\n", p.ID, formatMoney(p.Amount), p.Status)
			}
			return nil
		},
	}
	f := verify.Flags()
	f.StringVar(&in.OrderID, "order", "", "gateway order id")
	f.StringVar(&in.PaymentID, "payment", "", "gateway payment id")
	f.StringVar(&in.Signature, "signature", "", "gateway signature")
	f.StringVar(&in.BorrowID, "borrow", "", "borrow record id")
	cmd.AddCommand(verify)
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
