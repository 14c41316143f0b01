package app

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

func (c *cli) creditsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Inspect the credit balance and ledger",
	}

	var page, pageSize int
	history := requires(&cobra.Command{
		Use:   "history",
		Short: "List credit transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := c.deps.Client.ListTransactions(cmd.Context(), page, pageSize)
			if err != nil {
				return err
			}
			return c.out.print(result, func(w io.Writer) {
				fmt.Fprintln(w, "DATE\tTYPE\tAMOUNT\tBALANCE\tDESCRIPTION")
				for _, tx := range result.Transactions {
					fmt.Fprintf(w, "%s\t%s\t%+d\t%d\t%s\n", tx.CreatedAt.Format(time.DateTime), tx.Type, tx.Amount, tx.BalanceAfter, orDash(tx.Description))
				}
				fmt.Fprintf(w, "\npage %d of %d\n", result.Page, result.TotalPages)
			})
		},
	}, requireUser)
	history.Flags().IntVar(&page, "page", 1, "page number")
	history.Flags().IntVar(&pageSize, "page-size", 20, "transactions per page")

	cmd.AddCommand(history)
	return cmd
}

func (c *cli) adminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrator tools",
	}

	var page, pageSize int
	users := requires(&cobra.Command{
		Use:   "users",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := c.deps.Client.AdminListUsers(cmd.Context(), page, pageSize)
			if err != nil {
				return err
			}
			return c.out.print(result, func(w io.Writer) {
				fmt.Fprintln(w, "ID\tEMAIL\tNAME\tCREDITS\tVERIFIED\tADMIN")
				for _, u := range result.Users {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\t%t\n", u.ID, u.Email, u.Name, u.Credits, u.IsVerified, u.IsAdmin)
				}
				fmt.Fprintf(w, "\n%d accounts\n", result.Total)
			})
		},
	}, requireAdmin)
	users.Flags().IntVar(&page, "page", 1, "page number")
	users.Flags().IntVar(&pageSize, "page-size", 50, "accounts per page")

	cmd.AddCommand(users)
	return cmd
}
