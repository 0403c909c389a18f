package session

import (
	"fmt"
	"strings"

	"github.com/Gokias/GokiBot/internal/discord"
)

const (
	commandTranscribe         = "transcribe"
	commandTranscribeStop     = "transcribe-stop"
	commandTranscribeName     = "transcribe-name"
	commandTranscribeConsent  = "transcribe-consent"
	commandTranscribeLanguage = "transcribe-language"

	optionName = "name"
	optionCode = "code"

	maxAliasLength = 32
)

const (
	stopReasonManual           = "manual"
	stopReasonCaptureFailures  = "capture_failures"
	stopReasonParticipantsLeft = "participants_left"
	stopReasonBotRemoved       = "bot_removed"
	stopReasonServerClosed     = "server_closed"
	stopReasonOrphaned         = "orphaned"
)

const (
	messageEphemeralGuildOnly         = ":warning: **This command only works inside a server.**"
	messageEphemeralUnknownCommand    = ":warning: **Unknown command.**"
	messageEphemeralVoiceLookupFailed = ":warning: **Could not check your voice channel.**"
	messageEphemeralJoinVCFirst       = ":warning: **Join a voice channel first.**"
	messageEphemeralAlreadyRunning    = ":warning: **Transcription is already running in this server.**"
	messageEphemeralUnsupported       = ":warning: **Recording is not supported on this bot instance.**"
	messageEphemeralConnectFailed     = ":warning: **Could not connect to your voice channel.**"
	messageEphemeralStartFailed       = ":warning: **Failed to start transcription.**"
	messageEphemeralNotRunning        = ":warning: **Transcription is not running in this server.**"
	messageEphemeralStopping          = ":pause_button: **Stopping transcription.** The transcript will be attached to the thread."
	messageEphemeralThreadFailed      = ":warning: **Could not create a transcript thread here.**"
	messageEphemeralNameInvalid       = ":warning: **Names must be 1-32 characters.**"
	messageEphemeralConsentSaved      = ":white_check_mark: **Consent recorded.** Your voice will be transcribed in this server."
	messageEphemeralSaveFailed        = ":warning: **Failed to save your settings.**"
	messageEphemeralLanguageInvalid   = ":warning: **That is not a valid language code.** Try something like `en-US`."

	messageStartThreadTitle = ":microphone2: **Transcription started.**"
	messageStartThreadHint  = "-# Only participants who consent are transcribed. Use /transcribe-stop to end."

	messageAttachmentTitle = ":page_facing_up: **Transcript**"
)

func SlashCommandDefinitions() []discord.SlashCommandDefinition {
	return []discord.SlashCommandDefinition{
		{Name: commandTranscribe, Description: "Start transcribing the voice channel you are in."},
		{Name: commandTranscribeStop, Description: "Stop transcription in this server."},
		{
			Name:        commandTranscribeName,
			Description: "Set the name shown for you in transcripts (also records consent).",
			Options:     []discord.SlashCommandOption{{Name: optionName, Description: "Display name", Required: true}},
		},
		{Name: commandTranscribeConsent, Description: "Consent to having your voice transcribed in this server."},
		{
			Name:        commandTranscribeLanguage,
			Description: "Set the recognition language for this server.",
			Options:     []discord.SlashCommandOption{{Name: optionCode, Description: "BCP-47 code such as en-US", Required: true}},
		},
	}
}

func startThreadMessage(channelID string) string {
	return fmt.Sprintf("%s\n-# Listening in <#%s>.\n%s", messageStartThreadTitle, channelID, messageStartThreadHint)
}

func startEphemeralMessage(threadID string) string {
	return fmt.Sprintf(":microphone2: **Transcription started.** Lines will appear in <#%s>.", threadID)
}

func aliasSavedMessage(name string) string {
	return fmt.Sprintf(":white_check_mark: **You will appear as %s in transcripts.**", name)
}

func languageSavedMessage(code string) string {
	return fmt.Sprintf(":white_check_mark: **Recognition language set to `%s`.** It applies to the next session.", code)
}

func threadName(date string) string {
	return "Transcript " + date
}

func consentDirectMessage(threadID string) string {
	return fmt.Sprintf("A voice channel you joined is being transcribed. Your voice is not recorded until you consent. "+
		"React with %s on the prompt in <#%s>, or run /transcribe-consent in the server.", consentEmoji, threadID)
}

func consentPromptMessage(pendingUserIDs []string) string {
	var b strings.Builder
	b.WriteString(":information_source: **This voice channel is being transcribed.**\n")
	fmt.Fprintf(&b, "React with %s to consent. Audio from anyone who has not consented is discarded.", consentEmoji)
	if len(pendingUserIDs) > 0 {
		mentions := make([]string, 0, len(pendingUserIDs))
		for _, id := range pendingUserIDs {
			mentions = append(mentions, "<@"+id+">")
		}
		b.WriteString("\nWaiting on: ")
		b.WriteString(strings.Join(mentions, " "))
	}
	return b.String()
}

func stopNotice(reason string) string {
	return fmt.Sprintf(":stop_button: **Transcription ended.** %s", stopReasonDetail(reason))
}

func stopReasonDetail(reason string) string {
	switch reason {
	case stopReasonManual:
		return "A participant stopped it."
	case stopReasonCaptureFailures:
		return "Voice capture kept failing, so the session was shut down."
	case stopReasonParticipantsLeft:
		return "Everyone left the voice channel."
	case stopReasonBotRemoved:
		return "The bot was removed from the voice channel."
	case stopReasonServerClosed:
		return "The transcription server is shutting down."
	default:
		return "An unknown error occurred."
	}
}
