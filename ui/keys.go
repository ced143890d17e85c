package ui

import (
	"sync"

	"github.com/eiannone/keyboard"
)

// Runes sent for non-printable keys.
const (
	KeyEsc   rune = 27
	KeyEnter rune = '\r'
	KeySpace rune = ' '
	KeyUp    rune = 0xE000 + iota
	KeyDown
	KeyLeft
	KeyRight
)

var specialKeys = map[keyboard.Key]rune{
	keyboard.KeyEsc:        KeyEsc,
	keyboard.KeyEnter:      KeyEnter,
	keyboard.KeySpace:      KeySpace,
	keyboard.KeyArrowUp:    KeyUp,
	keyboard.KeyArrowDown:  KeyDown,
	keyboard.KeyArrowLeft:  KeyLeft,
	keyboard.KeyArrowRight: KeyRight,
}

// Singleton buffered channel and one reader goroutine, so DrainKeys works
// across prompts.
var (
	keyCh     chan rune
	startOnce sync.Once
)

// StartKeyEvents returns a channel of single keys read without Enter. The
// first call opens the keyboard; when that fails the channel never emits.
func StartKeyEvents() chan rune {
	startOnce.Do(func() {
		keyCh = make(chan rune, 64)
		if err := keyboard.Open(); err != nil {
			return
		}
		go func() {
			defer keyboard.Close()
			for {
				char, key, err := keyboard.GetKey()
				if err != nil {
					close(keyCh)
					return
				}
				r, ok := translateKey(char, key)
				if !ok {
					continue
				}
				// drop keys nobody is reading
				select {
				case keyCh <- r:
				default:
				}
			}
		}()
	})
	return keyCh
}

func translateKey(char rune, key keyboard.Key) (rune, bool) {
	if key == 0 {
		return char, char != 0
	}
	if key == keyboard.KeyCtrlC {
		return KeyEsc, true
	}
	r, ok := specialKeys[key]
	return r, ok
}

// DrainKeys discards keys already buffered.
func DrainKeys() {
	ch := StartKeyEvents()
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// Choose prints message and waits for one of options (letters match either
// case) or ESC. It returns the upper-case option or KeyEsc.
func Choose(keys <-chan rune, message string, options ...rune) rune {
	colorf(green, "%s\n", message)
	for k := range keys {
		if k == KeyEsc {
			return KeyEsc
		}
		for _, o := range options {
			if upper(k) == upper(o) {
				return upper(o)
			}
		}
	}
	return KeyEsc
}

func upper(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - 'a' + 'A'
	}
	return r
}
