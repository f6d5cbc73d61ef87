package inbound

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/DINO060/RENAMBOT/internal/filename"
	"github.com/DINO060/RENAMBOT/internal/quota"
	"github.com/DINO060/RENAMBOT/internal/refcache"
)

// Button actions carried in callback data as "<action>:<file message id>".
const (
	buttonRename  = "rename"
	buttonThumb   = "thumb"
	buttonNoThumb = "nothumb"
	buttonCancel  = "cancel"
)

const usageBarLength = 20

func buttonData(action string, key refcache.Key) string {
	return action + ":" + strconv.Itoa(key.MessageID)
}

func parseButton(payload string) (string, int, bool) {
	action, raw, ok := strings.Cut(strings.TrimSpace(payload), ":")
	if !ok {
		return "", 0, false
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return "", 0, false
	}
	switch action {
	case buttonRename, buttonThumb, buttonNoThumb, buttonCancel:
		return action, id, true
	}
	return "", 0, false
}

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func escape(s string) string {
	return html.EscapeString(s)
}

func renderFileCard(ref refcache.FileReference, hasThumb bool, usage quota.Info, haveUsage bool) string {
	_, ext := filename.SplitExt(ref.Name)
	mime := ref.Mime
	if mime == "" {
		mime = "unknown"
	}
	var b strings.Builder
	b.WriteString("📁 <b>FILE INFORMATION</b>\n\n")
	fmt.Fprintf(&b, "◆ <b>Name:</b> <code>%s</code>\n", escape(ref.Name))
	fmt.Fprintf(&b, "◆ <b>Size:</b> %s\n", formatBytes(ref.Size))
	fmt.Fprintf(&b, "◆ <b>Type:</b> %s", escape(mime))
	if ref.IsVideo {
		b.WriteString(" 🎬 (Video)")
	}
	fmt.Fprintf(&b, "\n◆ <b>Extension:</b> %s\n", escape(ext))
	if hasThumb {
		b.WriteString("◆ <b>Thumbnail:</b> ✅ Set")
	} else {
		b.WriteString("◆ <b>Thumbnail:</b> ❌ Not set (use /setthumb)")
	}
	if haveUsage {
		if usage.Unlimited {
			b.WriteString("\n\n📊 <b>Your Usage:</b> unlimited")
		} else {
			fmt.Fprintf(&b, "\n\n📊 <b>Your Usage:</b> %s / %s (%.1f%%)", formatBytes(usage.Used), formatBytes(usage.Limit), usage.Percent)
		}
	}
	b.WriteString("\n\n❓ <b>What do you want to do?</b>")
	return b.String()
}

func renderRenamePrompt(ref refcache.FileReference) string {
	return "✏️ <b>Send me the new name for this file:</b>\n\n" +
		"<code>" + escape(ref.Name) + "</code>\n\n" +
		"<i>Reply to this message with the new name.</i>"
}

func renderMediaInfoPrompt(ref refcache.FileReference) string {
	_, ext := filename.SplitExt(ref.Name)
	mime := ref.Mime
	if mime == "" {
		mime = "unknown"
	}
	return "📁 <b>MEDIA INFO</b>\n\n" +
		"📁 <b>FILE NAME:</b> <code>" + escape(ref.Name) + "</code>\n" +
		"🧩 <b>EXTENSION:</b> <code>" + escape(ext) + "</code>\n" +
		"📦 <b>FILE SIZE:</b> " + formatBytes(ref.Size) + "\n" +
		"🪄 <b>MIME TYPE:</b> " + escape(mime) + "\n\n" +
		"<b>PLEASE ENTER THE NEW FILENAME WITH EXTENSION AND REPLY THIS MESSAGE.</b>"
}

func usageBar(percent float64) string {
	filled := int(percent / 100 * usageBarLength)
	filled = max(0, min(usageBarLength, filled))
	return strings.Repeat("█", filled) + strings.Repeat("░", usageBarLength-filled)
}

func renderUsage(info quota.Info, cooldown time.Duration) string {
	if info.Unlimited {
		return "📊 <b>Your Usage Statistics</b>\n\n" +
			"<b>Daily Limit:</b> unlimited (admin)\n" +
			"<b>Used Today:</b> " + formatBytes(info.Used)
	}
	return fmt.Sprintf("📊 <b>Your Usage Statistics</b>\n\n"+
		"<b>Daily Limit:</b> %s\n"+
		"<b>Used Today:</b> %s (%.1f%%)\n"+
		"<b>Remaining:</b> %s\n\n"+
		"<code>%s</code>\n\n"+
		"<b>Next Reset:</b> %s\n"+
		"<b>Cooldown:</b> %d seconds between files",
		formatBytes(info.Limit), formatBytes(info.Used), info.Percent, formatBytes(info.Remaining),
		usageBar(info.Percent),
		info.ResetAt.Format("2006-01-02 15:04 MST"),
		int(cooldown/time.Second),
	)
}

func renderSettings(prefs filename.Preferences) string {
	var b strings.Builder
	b.WriteString("⚙️ <b>Bot Settings</b>\n\n")
	if prefs.CustomText != "" {
		fmt.Fprintf(&b, "📝 Custom text: <code>%s</code>\n", escape(prefs.CustomText))
		fmt.Fprintf(&b, "📍 Position: %s\n", prefs.Position)
	} else {
		b.WriteString("📝 No custom text set\n")
	}
	if prefs.Username != "" {
		fmt.Fprintf(&b, "👤 Username: <code>%s</code>\n", escape(prefs.Username))
	}
	if prefs.CleanTags {
		b.WriteString("🧹 Auto-clean tags: Yes\n\n")
	} else {
		b.WriteString("🧹 Auto-clean tags: No\n\n")
	}
	b.WriteString("<b>Change with:</b>\n" +
		"/settext &lt;text|off&gt; - text added to every filename\n" +
		"/setposition start|end - where the text goes\n" +
		"/setusername &lt;@name|off&gt; - username added to every filename\n" +
		"/cleantags on|off - remove @tags and #hashtags")
	return b.String()
}

func renderWelcome(maxFileBytes int64) string {
	return `👋 <b>Welcome to Advanced File Rename Bot!</b>

Send me any file and I'll help you rename it.

<b>📋 Features:</b>
• Support all file types (up to ` + formatBytes(maxFileBytes) + `)
• Custom text/username addition
• Fast thumbnail processing ⚡
• Auto-cleanup of @tags and #hashtags
• Video streaming support 🎬`
}

const commandsText = `<b>🎯 Commands:</b>
/start - Show this message
/help - How to use the bot
/settings - Show naming settings ⚙️
/usage - Check your usage limits
/status - Show bot status 📊
/setthumb - Set custom thumbnail
/delthumb - Delete custom thumbnail
/showthumb - Show current thumbnail
/cancel - Cancel current operation`

const adminCommandsText = `<b>🛡️ Admin:</b>
/addfsub &lt;channels&gt; - Require joining channels
/delfsub [channels] - Remove required channels
/channels - List required channels
/cleanup - Remove temporary files now`

func renderHelp(maxFileBytes int64) string {
	return `📚 <b>How to use this bot:</b>

1️⃣ Send me any file (document, video, audio)
2️⃣ Choose an action: 'Add Thumbnail' or 'Rename Only'.
3️⃣ <b>For Renaming:</b> Reply to the prompt with the new filename (including extension).
4️⃣ <b>For Thumbnail:</b> Make sure you have set a thumbnail with /setthumb.

<b>💡 Tips:</b>
• Use descriptive filenames
• Keep the correct extension
• Avoid special characters like / \ : * ? " &lt; &gt; |
• Maximum file size: ` + formatBytes(maxFileBytes)
}

const setThumbText = `🖼️ <b>Send me a photo to set as thumbnail</b>

💡 <b>Tips for video thumbnails:</b>
- Use a 16:9 image
- Keep it under 200 KB
- Avoid text-heavy thumbnails`
