package keys

import (
	"reflect"
	"testing"

	"github.com/gdamore/tcell/v2"
)

func keyRune(r rune) *tcell.EventKey {
	return tcell.NewEventKey(tcell.KeyRune, r, tcell.ModNone)
}

func TestViewBindingShadowsGlobal(t *testing.T) {
	r := NewRegistry()
	var got []string
	r.AddGlobal("quit", &Action{Key: tcell.KeyRune, Rune: 'q', Description: "q:quit", Visible: true, Handler: func() { got = append(got, "quit") }})
	r.AddView("thread", "back", &Action{Key: tcell.KeyRune, Rune: 'q', Description: "q:back", Visible: true, Handler: func() { got = append(got, "back") }})
	r.AddView("thread", "send", &Action{Key: tcell.KeyEnter, Description: "enter", Handler: func() { got = append(got, "send") }})

	r.HandleEvent("thread", keyRune('q'))
	r.HandleEvent("list", keyRune('q'))
	r.HandleEvent("thread", tcell.NewEventKey(tcell.KeyEnter, 0, tcell.ModNone))
	if r.HandleEvent("thread", keyRune('x')) {
		t.Error("unbound key handled")
	}
	if want := []string{"back", "quit", "send"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("handled %v, want %v", got, want)
	}
}

func TestHintsKeepRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.AddGlobal("help", &Action{Description: "?:help", Visible: true})
	r.AddGlobal("quit", &Action{Description: "q:quit", Visible: true})
	r.AddView("list", "open", &Action{Description: "enter:open", Visible: true})
	r.AddView("list", "hidden", &Action{Description: "hidden"})
	r.AddGlobal("help", &Action{Description: "?:keys", Visible: true})

	want := []string{"enter:open", "?:keys", "q:quit"}
	if got := r.Hints("list"); !reflect.DeepEqual(got, want) {
		t.Fatalf("Hints() = %v, want %v", got, want)
	}
}
