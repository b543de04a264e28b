package main

import (
	"context"
	"fmt"
)

// setFee overwrites a class fee, asking first when one is already configured.
func (cli *commandLine) setFee(classID string, amount int64, yes bool) error {
	ctx := context.Background()

	current, err := cli.feeSvc.GetMonthlyFee(ctx, classID)
	if err != nil {
		return err
	}
	if current > 0 && current != amount && !yes {
		ok, err := cli.confirm(fmt.Sprintf("Class %s already pays %d per month. Replace it with %d?", classID, current, amount))
		if err != nil {
			return err
		}
		if !ok {
			return errAborted
		}
	}

	cf, err := cli.feeSvc.SetMonthlyFee(ctx, classID, amount)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "class %s: monthly fee set to %d\n", cf.ClassID, cf.MonthlyFee)
	return nil
}
