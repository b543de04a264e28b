package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/trezcool/feeledger/core/fee"
)

func (cli *commandLine) history(studentID string) error {
	view, err := cli.feeSvc.History(context.Background(), studentID, nil, fee.DefaultHistoryOrdering)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cli.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RECEIPT\tPERIOD\tTOTAL DUE\tPAID\tBALANCE\tSTATUS\tDATE")
	for _, e := range view.Entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			e.ReceiptNumber, e.Period(), e.TotalDue, e.PaidAmount, e.BalanceDue,
			fee.DisplayStatus(e.BalanceDue), e.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	if err = w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "\n%d receipt(s), %d received, %d fully paid, %d partially paid\n",
		view.Stats.Receipts, view.Stats.TotalPaid, view.Stats.FullyPaid, view.Stats.Partial)
	return nil
}
