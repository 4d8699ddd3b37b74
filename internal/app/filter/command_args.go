package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/osa030/tagbox/internal/app/playback"
	"github.com/osa030/tagbox/internal/domain/observer"
)

// ErrInvalidArgs is returned when command arguments do not decode or validate.
var ErrInvalidArgs = errors.New("invalid command arguments")

type seekArgs struct {
	PositionMs *int64 `mapstructure:"positionMs" validate:"required,gte=0"`
}

type volumeArgs struct {
	Volume *int `mapstructure:"volume" validate:"required,gte=0,lte=100"`
}

type tagArgs struct {
	UID string `mapstructure:"uid" validate:"required,max=64"`
}

var validate = validator.New()

// DecodeCommand builds a playback command from its wire name and arguments.
func DecodeCommand(name string, args map[string]any) (playback.Command, error) {
	kind, ok := playback.ParseCommandKind(name)
	if !ok {
		return playback.Command{}, errors.Wrapf(playback.ErrUnknownCommand, "%q", name)
	}
	cmd := playback.Command{Kind: kind}

	switch kind {
	case playback.CmdSeek:
		var a seekArgs
		if err := decodeArgs(args, &a); err != nil {
			return cmd, err
		}
		cmd.PositionMs = *a.PositionMs
	case playback.CmdSetVolume:
		var a volumeArgs
		if err := decodeArgs(args, &a); err != nil {
			return cmd, err
		}
		cmd.Volume = *a.Volume
	case playback.CmdPresentTag:
		var a tagArgs
		if err := decodeArgs(args, &a); err != nil {
			return cmd, err
		}
		cmd.TagUID = a.UID
	}
	return cmd, nil
}

func decodeArgs(args map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(args); err != nil {
		return errors.Wrapf(ErrInvalidArgs, "failed to decode args: %v", err)
	}
	if err := validate.Struct(out); err != nil {
		return errors.Wrapf(ErrInvalidArgs, "validation failed: %v", err)
	}
	return nil
}

// CommandArgsFilter validates command arguments.
type CommandArgsFilter struct{}

func (f *CommandArgsFilter) Name() string {
	return "command_args_filter"
}

func (f *CommandArgsFilter) Description() string {
	return "Checks that command arguments are present and in range"
}

func (f *CommandArgsFilter) ReturnCodes() []string {
	return []string{"invalid_args"}
}

func (f *CommandArgsFilter) ValidateConfig(settings map[string]any) error {
	return nil
}

func (f *CommandArgsFilter) AppliesTo(origin Origin) bool {
	return true
}

func (f *CommandArgsFilter) Check(ctx context.Context, req Request, snap playback.Snapshot, client *observer.Session) Result {
	if _, err := DecodeCommand(req.Command, req.Args); err != nil {
		if errors.Is(err, playback.ErrUnknownCommand) {
			return Reject("unknown_command")
		}
		return Reject("invalid_args")
	}
	return Accept()
}

func init() {
	Register("command_args_filter", func() Filter {
		return &CommandArgsFilter{}
	})
}
