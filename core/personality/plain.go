package personality

// Plain echoes whatever it is told.
type Plain struct {
	unknownCommands
	noResume
}

func (Plain) Name() string { return "plain" }

func (Plain) HandleText(t *Turn, text string) error {
	t.Reply("You said: " + text)
	return nil
}
