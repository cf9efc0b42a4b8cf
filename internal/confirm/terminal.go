package confirm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Confirmer obtains an explicit answer to a prompt.
type Confirmer interface {
	Confirm(ctx context.Context, p Prompt) (bool, error)
}

// Terminal asks on an interactive stream and accepts "yes" or "y".
type Terminal struct {
	In  io.Reader
	Out io.Writer
}

// Confirm prints the prompt and reads answers until yes or no. End of input
// counts as no.
func (t Terminal) Confirm(ctx context.Context, p Prompt) (bool, error) {
	fmt.Fprint(t.Out, p.Text)
	reader := bufio.NewReader(t.In)

	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		fmt.Fprintf(t.Out, "\nDelete %d resource(s)? Type 'yes' to confirm or 'no' to cancel: ", p.Total)

		response, err := reader.ReadString('\n')
		response = strings.ToLower(strings.TrimSpace(response))
		if err != nil && response == "" {
			if errors.Is(err, io.EOF) {
				return false, nil
			}
			return false, fmt.Errorf("read confirmation: %w", err)
		}

		switch response {
		case "yes", "y":
			return true, nil
		case "no", "n", "":
			return false, nil
		default:
			fmt.Fprintln(t.Out, "Please type 'yes' or 'no'")
		}
	}
}

// Preapproved answers yes without asking, for non-interactive runs.
type Preapproved struct{}

// Confirm implements Confirmer.
func (Preapproved) Confirm(context.Context, Prompt) (bool, error) {
	return true, nil
}

// Ask presents the prompt through c and mints the approval.
func Ask(ctx context.Context, c Confirmer, p Prompt) (Approval, error) {
	if p.Total == 0 {
		return Approval{}, nil
	}
	ok, err := c.Confirm(ctx, p)
	if err != nil {
		return Approval{}, err
	}
	return Approve(p, p.Digest, ok)
}
