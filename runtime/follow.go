package runtime

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/errors"
	"context"
	stderrors "errors"
)

// Follow keeps the engine opened on sessionID with the latest credential.
// Every credential change re-opens the session, an empty credential closes it.
// Follow returns when ctx is done, after closing the engine.
func Follow(ctx context.Context, engine *Engine, sessionID domain.SessionID, credentials contract.CredentialSource) error {
	defer engine.Close()

	open := func() error {
		token := credentials.Token()
		if token == "" {
			engine.log.Info("No credential, closing session", "session_id", sessionID)
			engine.Close()
			return nil
		}
		err := engine.Open(ctx, sessionID, token)
		if stderrors.Is(err, errors.ErrCredentialRejected) {
			// Wait for the next credential.
			engine.log.Warn("Credential refused before connecting", "session_id", sessionID, "error", err)
			engine.Close()
			return nil
		}
		return err
	}

	if err := open(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-credentials.Changed():
			if err := open(); err != nil {
				return err
			}
		}
	}
}
