package appfs

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFS(t *testing.T) {
	tests := []string{
		"migrations/00001_init_ledger.sql",
		"templates/email/_base.txt",
		"templates/email/_base.gohtml",
		"templates/email/fee_payment.txt",
		"templates/email/fee_payment.gohtml",
	}
	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := fs.Stat(FS, name)
			assert.NoError(t, err)
		})
	}
}
