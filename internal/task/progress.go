package task

import (
	"sync"
	"time"

	"github.com/simpletasks/simpletasks/internal/events"
)

// Progress tracks advancement through a known or unknown number of steps
// and publishes it as task.progress events. It is silent when the progress
// option is off or the runtime has no event bus.
type Progress struct {
	mu      sync.Mutex
	env     *Env
	desc    string
	total   int
	done    int
	enabled bool
}

// Progress starts tracking total steps (0 when unknown) described by desc.
func (e *Env) Progress(total int, desc string) *Progress {
	p := &Progress{
		env:     e,
		desc:    desc,
		total:   total,
		enabled: e.Options.ShowProgress() && e.rt.Events != nil,
	}
	p.publish(0)
	return p
}

// Step records one finished step.
func (p *Progress) Step() { p.Add(1) }

// Add records n finished steps.
func (p *Progress) Add(n int) {
	p.mu.Lock()
	p.done += n
	done := p.done
	p.mu.Unlock()

	p.publish(done)
}

// Done returns the number of finished steps.
func (p *Progress) Done() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *Progress) publish(done int) {
	if !p.enabled {
		return
	}
	p.env.rt.Events.Publish(events.TaskProgressEvent{
		Namespace:   p.env.Namespace(),
		Description: p.desc,
		Done:        done,
		Total:       p.total,
		Timestamp:   time.Now(),
	})
}

// Each calls fn for every item, stepping a Progress after each one. It stops
// at the first error.
func Each[T any](env *Env, desc string, items []T, fn func(T) error) error {
	p := env.Progress(len(items), desc)
	for _, item := range items {
		if err := fn(item); err != nil {
			return err
		}
		p.Step()
	}
	return nil
}
