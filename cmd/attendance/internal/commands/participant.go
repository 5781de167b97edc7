package commands

import (
	"context"
	"fmt"
	"time"

	"attendance/internal/capture"
	"attendance/internal/participant"
)

type ParticipantCmd struct {
	ServerFlags
	Capture  string                 `help:"Image file read as the camera capture" type:"existingfile" required:""`
	Checkin  ParticipantCheckinCmd  `cmd:"" help:"Check in to a session with its join code"`
	Register ParticipantRegisterCmd `cmd:"" help:"Register your face profile"`
}

func (p *ParticipantCmd) flow(ctx context.Context) (*participant.Flow, error) {
	api, err := p.client(ctx)
	if err != nil {
		return nil, err
	}
	device := capture.NewExclusive(&capture.FileDevice{Path: p.Capture})
	return participant.NewFlow(api, device), nil
}

type ParticipantCheckinCmd struct {
	Code string `arg:"" help:"Join code shown by the presenter"`
}

func (c *ParticipantCheckinCmd) Run(ctx context.Context, parent *ParticipantCmd) error {
	flow, err := parent.flow(ctx)
	if err != nil {
		return err
	}
	result, err := flow.CheckIn(ctx, c.Code)
	if err != nil {
		fmt.Println(participant.Message(err))
		return err
	}
	fmt.Printf("%s for %s — %s at %s\n", participant.Message(nil),
		result.Session.ClassName, result.Session.SubjectName, result.Mark.Timestamp.Local().Format(time.TimeOnly))
	return nil
}

type ParticipantRegisterCmd struct{}

func (c *ParticipantRegisterCmd) Run(ctx context.Context, parent *ParticipantCmd) error {
	flow, err := parent.flow(ctx)
	if err != nil {
		return err
	}
	resp, err := flow.Register(ctx)
	if err != nil {
		fmt.Println(participant.Message(err))
		return err
	}
	fmt.Printf("Profile registered for %s\n", resp.ParticipantID)
	return nil
}
