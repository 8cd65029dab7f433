package forwarder

import (
	"context"
	"fmt"
	"github.com/jd3nn1s/groundstation"
	"github.com/pkg/errors"
	"io"
)

// Printer writes every update to w, one line each.
type Printer struct {
	w io.Writer
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) Name() string {
	return "printer"
}

func (p *Printer) Deliver(ctx context.Context, u groundstation.Update) error {
	var err error
	if u.IsState() {
		_, err = fmt.Fprintf(p.w, "state %s\n", u.State)
	} else {
		_, err = fmt.Fprintf(p.w, "%s %+v\n", u.Record.Kind(), u.Record)
	}
	return errors.Wrap(err, "unable to print update")
}
