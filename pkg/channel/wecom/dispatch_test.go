package wecom

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"wecomgw/pkg/bus"
)

func TestParseEditCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		input    string
		wantPath string
		wantText string
		wantOK   bool
	}{
		{"basic", "/tmp/a.png | make it blue", "/tmp/a.png", "make it blue", true},
		{"extra pipes join back", "/tmp/a.png | red | white stripes", "/tmp/a.png", "red | white stripes", true},
		{"whitespace trimmed", "  /tmp/a.png  |  crop it  ", "/tmp/a.png", "crop it", true},
		{"empty segments dropped", "/tmp/a.png || sharpen", "/tmp/a.png", "sharpen", true},
		{"missing prompt", "/tmp/a.png", "", "", false},
		{"missing path", "| just a prompt", "", "", false},
		{"empty", "", "", "", false},
	}

	for _, tc := range cases {
		path, prompt, ok := parseEditCommand(tc.input)
		if ok != tc.wantOK {
			t.Fatalf("%s: ok = %v, want %v", tc.name, ok, tc.wantOK)
		}
		if path != tc.wantPath || prompt != tc.wantText {
			t.Fatalf("%s: got (%q, %q), want (%q, %q)", tc.name, path, prompt, tc.wantPath, tc.wantText)
		}
	}
}

func TestExtFromContentType(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"image/png":                ".png",
		"image/jpeg":               ".jpg",
		"image/jpg":                ".jpg",
		"image/webp":               ".webp",
		"IMAGE/PNG":                ".png",
		"image/png; charset=utf-8": ".png",
		"application/pdf":          ".bin",
		"":                         ".bin",
	}

	for input, want := range cases {
		if got := extFromContentType(input); got != want {
			t.Fatalf("extFromContentType(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestDeliverReplyPassesPlainTextThrough(t *testing.T) {
	t.Parallel()

	gw, sender, _ := testGateway(t, newRecordingResolver(), nil)

	gw.deliverReply(context.Background(), "default", "zhang", bus.ReplyPayload{Text: "plain answer mentioning IMAGE_GEN: mid-sentence"})

	// Only a leading prefix triggers the command path; this goes out verbatim.
	// (The payload above does start differently.)
	messages := sender.all()
	require.Len(t, messages, 1)
	require.Equal(t, "plain answer mentioning IMAGE_GEN: mid-sentence", messages[0].Text)
}

func TestDeliverReplyImageGen(t *testing.T) {
	t.Parallel()

	images := &fakeImageClient{path: "/tmp/generated.png"}
	gw, sender, _ := testGateway(t, newRecordingResolver(), images)

	gw.deliverReply(context.Background(), "default", "zhang", bus.ReplyPayload{Text: "IMAGE_GEN: a red panda"})

	images.mu.Lock()
	require.Equal(t, []string{"a red panda"}, images.genCalls)
	images.mu.Unlock()

	messages := sender.all()
	require.Len(t, messages, 1)
	require.Equal(t, "/tmp/generated.png", messages[0].MediaPath)
	require.Empty(t, messages[0].Text)
}

func TestDeliverReplyImageEdit(t *testing.T) {
	t.Parallel()

	images := &fakeImageClient{path: "/tmp/edited.png"}
	gw, sender, _ := testGateway(t, newRecordingResolver(), images)

	gw.deliverReply(context.Background(), "default", "zhang", bus.ReplyPayload{Text: "IMAGE_EDIT: /tmp/in.png | add a hat"})

	images.mu.Lock()
	require.Equal(t, [][2]string{{"/tmp/in.png", "add a hat"}}, images.editCalls)
	images.mu.Unlock()

	messages := sender.all()
	require.Len(t, messages, 1)
	require.Equal(t, "/tmp/edited.png", messages[0].MediaPath)
}

func TestDeliverReplyImageEditBadFormat(t *testing.T) {
	t.Parallel()

	images := &fakeImageClient{path: "/tmp/edited.png"}
	gw, sender, _ := testGateway(t, newRecordingResolver(), images)

	gw.deliverReply(context.Background(), "default", "zhang", bus.ReplyPayload{Text: "IMAGE_EDIT: /tmp/in.png"})

	// A format error never reaches the image provider.
	images.mu.Lock()
	require.Empty(t, images.editCalls)
	images.mu.Unlock()

	messages := sender.all()
	require.Len(t, messages, 1)
	require.Contains(t, messages[0].Text, "IMAGE_EDIT 格式错误")
}

func TestDeliverReplyImageCommandsWithoutProvider(t *testing.T) {
	t.Parallel()

	gw, sender, _ := testGateway(t, newRecordingResolver(), nil)

	gw.deliverReply(context.Background(), "default", "zhang", bus.ReplyPayload{Text: "IMAGE_GEN: anything"})
	gw.deliverReply(context.Background(), "default", "zhang", bus.ReplyPayload{Text: "IMAGE_EDIT: a | b"})

	messages := sender.all()
	require.Len(t, messages, 2)
	for _, msg := range messages {
		require.Contains(t, msg.Text, "未配置 Road2all")
	}
}

func TestDeliverReplyImageGenFailureIsSilent(t *testing.T) {
	t.Parallel()

	images := &fakeImageClient{err: context.DeadlineExceeded}
	gw, sender, _ := testGateway(t, newRecordingResolver(), images)

	gw.deliverReply(context.Background(), "default", "zhang", bus.ReplyPayload{Text: "IMAGE_GEN: a cat"})

	// Provider failures are logged, not sent to the user.
	require.Empty(t, sender.all())
}
