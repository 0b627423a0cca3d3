package auth

import (
	"context"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/pkg/browser"
	"github.com/pterm/pterm"

	"github.com/kamui-project/kamui-session/internal/session"
)

// BrowserPresenter sends the user to the authorization URL by opening the
// default browser, printing the URL as a fallback.
type BrowserPresenter struct {
	out     io.Writer
	openURL func(string) error
}

var _ session.Presenter = (*BrowserPresenter)(nil)

// NewBrowserPresenter creates a presenter that prints to out
func NewBrowserPresenter(out io.Writer) *BrowserPresenter {
	return &BrowserPresenter{
		out:     out,
		openURL: browser.OpenURL,
	}
}

// Present opens authURL in the browser
func (p *BrowserPresenter) Present(_ context.Context, authURL string) error {
	pterm.Info.WithWriter(p.out).Println("Opening browser for authentication...")
	pterm.Fprintln(p.out, "If the browser doesn't open, visit this URL:")
	pterm.Fprintln(p.out, pterm.FgCyan.Sprint(authURL))
	pterm.Fprintln(p.out)

	if err := p.openURL(authURL); err != nil {
		pterm.Warning.WithWriter(p.out).Printfln("Could not open browser: %v", err)
	}
	return nil
}

// TerminalPresenter returns a BrowserPresenter writing to stdout when the
// process is attached to a terminal, and nil otherwise
func TerminalPresenter() session.Presenter {
	if !isTerminal(os.Stdin) || !isTerminal(os.Stdout) {
		return nil
	}
	return NewBrowserPresenter(os.Stdout)
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
