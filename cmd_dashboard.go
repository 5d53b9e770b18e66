package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"library-client/library"
	"library-client/manager"
)

func dashboardCmd(a *app) *cobra.Command {
	var recommend int
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Borrowing statistics for you, or for the whole library as admin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := a.mgr.Dashboard(cmd.Context())
			if err != nil {
				return err
			}
			printDashboard(a, d)
			if d.User.IsAdmin() || recommend <= 0 {
				return nil
			}
			recs, err := a.mgr.Recommendations(cmd.Context(), recommend)
			if err != nil {
				return err
			}
			if len(recs) > 0 {
				fmt.Fprintln(a.out, "\nRecommended for you:")
				for _, b := range recs {
					fmt.Fprintf(a.out, "  %s by %s (%s)\n", b.Title, b.Author, b.Genre)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&recommend, "recommend", 3, "number of book suggestions, 0 to skip")
	return cmd
}

func printDashboard(a *app, d *manager.Dashboard) {
	w := a.out
	s := d.Summary
	if d.User != nil {
		fmt.Fprintf(w, "Dashboard for %s (%s)\n", d.User.Name, d.User.Role)
	}
	if d.Offline {
		fmt.Fprintln(w, "(server unreachable, showing cached records)")
	}
	fmt.Fprintln(w, strings.Repeat("=", 40))
	fmt.Fprintf(w, "Total borrows:   %d\n", s.Total)
	fmt.Fprintf(w, "Borrowed:        %d\n", s.BorrowedCount)
	fmt.Fprintf(w, "Due soon:        %d\n", s.DueSoonCount)
	fmt.Fprintf(w, "Overdue:         %d\n", s.OverdueCount)
	fmt.Fprintf(w, "Returned:        %d\n", s.ReturnedCount)
	fmt.Fprintf(w, "Reading days:    %d (avg %.1f)\n", s.TotalReadingDays, s.AvgReadingDays)
	fmt.Fprintf(w, "Fines:           %s total, %s outstanding, %s paid\n",
		formatMoney(s.TotalFines), formatMoney(s.OutstandingFines), formatMoney(s.PaidFines))

	if len(s.GenreDistribution) > 0 {
		fmt.Fprintln(w, "\nGenres:")
		for _, g := range s.GenreDistribution {
			fmt.Fprintf(w, "  %-20s %3d %s\n", truncateString(g.Genre, 20), g.Count, strings.Repeat("#", min(g.Count, 40)))
		}
	}
	if d.Scope == library.ScopeAll && len(s.TopBorrowers) > 0 {
		fmt.Fprintln(w, "\nTop borrowers:")
		for i, b := range s.TopBorrowers {
			name := b.Name
			if name == "" {
				name = b.Email
			}
			if name == "" {
				name = b.UserID
			}
			fmt.Fprintf(w, "  %d. %-30s %d\n", i+1, truncateString(name, 30), b.Count)
		}
	}
	if len(d.Trend) > 0 {
		fmt.Fprintln(w, "\nMonthly borrows:")
		for _, m := range d.Trend {
			fmt.Fprintf(w, "  %s %3d\n", m.Month.Format("Jan 2006"), m.Count)
		}
	}
	if len(s.RecentActivity) > 0 {
		fmt.Fprintln(w, "\nRecent activity:")
		printBorrows(w, s.RecentActivity, a.mgr.Now(), a.mgr.Policy())
	}
}
