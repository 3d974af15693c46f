package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Spinner provides a simple terminal loading animation while a page is watched
type Spinner struct {
	out   io.Writer
	chars []string
	delay time.Duration
	end   chan bool
	wg    sync.WaitGroup
}

func NewSpinner() *Spinner {
	return &Spinner{
		out:   os.Stdout,
		chars: []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		delay: 100 * time.Millisecond,
	}
}

func (s *Spinner) Start(message string) {
	s.end = make(chan bool, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.delay)
		defer ticker.Stop()

		for i := 0; ; i++ {
			fmt.Fprintf(s.out, "\r%s %s", s.chars[i%len(s.chars)], message)

			select {
			case ok := <-s.end:
				mark := "✅"
				if !ok {
					mark = "⚠️"
				}
				fmt.Fprintf(s.out, "\r%s %s\n", mark, message)
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends the animation, marking the line as a success or a warning
func (s *Spinner) Stop(ok bool) {
	s.end <- ok
	s.wg.Wait()
}
