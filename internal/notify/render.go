package notify

import (
	"fmt"
	"strings"

	"buildrelay.app/relay/internal/chat"
)

const (
	msgInternal   = "An internal error occurred while processing the build result."
	msgNoArtifact = "Build successful, but no artifact file was specified to be sent\\."
	uploadingNote = "\n\nUploading file\\.\\.\\."
)

func statusText(ev Event, jobURL string) string {
	var links []string
	if ev.Target != "" {
		links = append(links, "📜 "+chat.Link("View Unity Build Log", unityLogURL(jobURL, ev.Target)))
	}
	links = append(links, "📝 "+chat.Link("View Console Log", consoleURL(jobURL, ev.BuildNumber)))

	target := ev.Target
	if target == "" {
		target = "Unknown"
	}

	if ev.Succeeded() {
		return fmt.Sprintf("✅ *Build Succeeded\\!*\n\n"+
			"*Job:* `%s`\n"+
			"*Build:* `#%d`\n"+
			"*Target:* `%s`\n\n"+
			"%s",
			chat.Escape(ev.JobName), ev.BuildNumber, chat.Escape(target), strings.Join(links, "\n"))
	}
	return fmt.Sprintf("❌ *Build Failed\\!*\n\n"+
		"*Job:* `%s`\n"+
		"*Build:* `#%d`\n"+
		"*Status:* `%s`\n\n"+
		"%s",
		chat.Escape(ev.JobName), ev.BuildNumber, chat.Escape(ev.Status), strings.Join(links, "\n"))
}

func missingFileText(path string) string {
	return fmt.Sprintf("⚠️ Error: Build file specified but not found at path: `%s`\\. "+
		"Please check permissions and path accessibility for the bot\\.", chat.Escape(path))
}

func disallowedFileText(path string) string {
	return fmt.Sprintf("⚠️ Error: Build file `%s` is outside the directory the bot may upload from\\.", chat.Escape(path))
}

func sendFailedText(err error) string {
	return fmt.Sprintf("⚠️ An error occurred while sending the build file: `%s`", chat.ErrorText(err))
}
