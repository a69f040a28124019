package ledger

import "errors"

// MinimumRows is the row count a visible ledger must keep. Deleting below it
// is rejected locally before any remote call.
const MinimumRows = 5

// ErrMinimumRows signals a delete attempted while the ledger is at its
// minimum row count.
var ErrMinimumRows = errors.New("closure ledger must keep at least 5 rows")
