package integration_test

import (
	"time"

	"autoforwardx/internal/models"
)

// Source and destination chats used across scenarios.
const (
	SignalsChat  = "-1001000000001"
	MirrorChat   = "-1001000000002"
	ArchiveChat  = "-1001000000003"
	DiscordRelay = "1200000000000000001"
)

var (
	alice = models.Caller{UserID: "user-alice"}
	bob   = models.Caller{UserID: "user-bob"}
)

func telegramAccount(token string) models.AccountSpec {
	return models.AccountSpec{Platform: models.PlatformTelegram, DisplayName: "tg " + token, Credential: token}
}

func discordAccount(token string) models.AccountSpec {
	return models.AccountSpec{Platform: models.PlatformDiscord, DisplayName: "dc " + token, Credential: token}
}

func simplePair(source, dest *models.Account, srcChat, dstChat string) models.PairSpec {
	return models.PairSpec{
		SourceAccountID: source.ID,
		SourceChatID:    srcChat,
		DestAccountID:   dest.ID,
		DestChatID:      dstChat,
		Delay:           models.DelayPolicy{Mode: models.DelayRealtime},
	}
}

func textMessage(chatID, messageID, text string) models.InboundMessage {
	return models.InboundMessage{
		ChatID:    chatID,
		MessageID: messageID,
		Kind:      models.MessageNew,
		Text:      text,
		ChatTitle: "Signals",
		Author:    "analyst",
		ArrivedAt: time.Now(),
	}
}

func editedMessage(chatID, messageID, text string) models.InboundMessage {
	msg := textMessage(chatID, messageID, text)
	msg.Kind = models.MessageEdited
	return msg
}

func deletedMessage(chatID, messageID string) models.InboundMessage {
	return models.InboundMessage{ChatID: chatID, MessageID: messageID, Kind: models.MessageDeleted, ArrivedAt: time.Now()}
}
