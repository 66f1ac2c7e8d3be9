//
// Tencent is pleased to support the open source community by making vortex-chat available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// vortex-chat is licensed under the Apache License Version 2.0.
//

package runner

import (
	"context"
	"errors"

	"trpc.group/trpc-go/vortex-chat/chat"
	"trpc.group/trpc-go/vortex-chat/log"
)

// ErrNoUserMessage is returned when a resubmission has nothing to resend.
var ErrNoUserMessage = errors.New("no user message to resubmit")

// RegenerateLastResponse truncates the active conversation at its last user
// message and resubmits that message, replacing the AI response. The
// original attachment, if any, is rebuilt from its stored encoding.
func (r *Runner) RegenerateLastResponse(ctx context.Context) error {
	conv, ok := r.store.ActiveConversation()
	if !ok {
		return errors.New("no active conversation")
	}
	lastUser, ok := conv.LastUserMessage()
	if !ok {
		return ErrNoUserMessage
	}
	return r.resubmit(ctx, &conv, lastUser, lastUser.Text)
}

// EditAndResend rewrites one of the user's messages and resubmits it,
// discarding that message and everything after it. Only user messages can
// be edited.
func (r *Runner) EditAndResend(ctx context.Context, messageID, newText string) error {
	conv, ok := r.store.ActiveConversation()
	if !ok {
		return errors.New("no active conversation")
	}
	idx := conv.MessageIndex(messageID)
	if idx < 0 {
		return errors.New("message not found")
	}
	msg := conv.Messages[idx]
	if msg.Sender != chat.SenderUser {
		return errors.New("only user messages can be edited")
	}
	r.store.StopEditing()
	return r.resubmit(ctx, &conv, msg, newText)
}

// resubmit rebuilds the attachment, truncates the conversation so the turn
// being replayed is gone, and sends it again. The attachment is decoded
// before truncation so a corrupt payload leaves the conversation intact.
func (r *Runner) resubmit(ctx context.Context, conv *chat.Conversation, msg chat.Message, text string) error {
	var attachment *chat.Attachment
	if msg.HasAttachment() {
		var err error
		attachment, err = msg.Attachment()
		if err != nil {
			log.Errorf("rebuild attachment for message %s: %v", msg.ID, err)
			r.store.ShowToast("Could not process the attached file.", chat.ToastError)
			return err
		}
	}

	idx := conv.MessageIndex(msg.ID)
	r.store.ReplaceMessages(conv.ID, conv.Messages[:idx])
	return r.SendMessage(ctx, text, attachment)
}
