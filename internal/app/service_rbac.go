package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"

	"cellsync/api/internal/email"
	"cellsync/api/internal/rbac"
	"cellsync/api/internal/store"
)

// LookupAccess reports the grant userID holds on sheetID. A missing grant is
// not an error.
func (s *Service) LookupAccess(ctx context.Context, userID string, sheetID int64) (store.Grant, bool, error) {
	grant, err := s.store.GetGrant(ctx, userID, sheetID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Grant{}, false, nil
	}
	if err != nil {
		return store.Grant{}, false, err
	}
	return grant, true, nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// authorizeSheet loads the sheet and checks the caller's grant against action.
// A missing sheet is 404, a missing or insufficient grant 403.
func (s *Service) authorizeSheet(ctx context.Context, userID string, sheetID int64, action rbac.Action) (store.Sheet, store.Grant, error) {
	sheet, err := s.store.GetSheet(ctx, sheetID)
	if err != nil {
		return store.Sheet{}, store.Grant{}, err
	}
	grant, found, err := s.LookupAccess(ctx, userID, sheetID)
	if err != nil {
		return store.Sheet{}, store.Grant{}, err
	}
	if !found || !s.Can(grant.AccessRight, action) {
		return store.Sheet{}, store.Grant{}, forbidden(string(action))
	}
	return sheet, grant, nil
}

func (s *Service) ListSheetUsers(ctx context.Context, userID string, sheetID int64) ([]map[string]any, error) {
	if _, _, err := s.authorizeSheet(ctx, userID, sheetID, rbac.ActionRead); err != nil {
		return nil, err
	}
	members, err := s.store.ListSheetMembers(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(members))
	for _, member := range members {
		items = append(items, map[string]any{
			"userId":    member.UserID,
			"login":     member.Login,
			"firstname": member.Firstname,
			"lastname":  member.Lastname,
			"access":    member.AccessRight,
		})
	}
	return items, nil
}

// ShareSheet grants targetID access to the sheet. Only owners share, and an
// owner cannot change their own grant.
func (s *Service) ShareSheet(ctx context.Context, userID string, sheetID int64, targetID, access string) (map[string]any, error) {
	sheet, _, err := s.authorizeSheet(ctx, userID, sheetID, rbac.ActionShare)
	if err != nil {
		return nil, err
	}
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "userId is required", nil)
	}
	if targetID == userID {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Owners cannot change their own access", nil)
	}
	access = strings.TrimSpace(access)
	if access == "" {
		access = string(rbac.RoleReader)
	}
	if !rbac.Valid(access) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "access must be reader, writer or owner", map[string]any{
			"access": access,
		})
	}
	target, err := s.store.GetUserByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "USER_NOT_FOUND", "User not found", nil)
		}
		return nil, err
	}
	if err := s.store.UpsertGrant(ctx, store.Grant{UserID: target.ID, SheetID: sheetID, AccessRight: access}); err != nil {
		return nil, err
	}
	s.indexRefresh(sheetID)
	s.notifyShared(ctx, userID, target, sheet, access)
	return map[string]any{
		"userId":  target.ID,
		"login":   target.Login,
		"sheetId": sheetID,
		"access":  access,
	}, nil
}

func (s *Service) RevokeSheetUser(ctx context.Context, userID string, sheetID int64, targetID string) error {
	if _, _, err := s.authorizeSheet(ctx, userID, sheetID, rbac.ActionShare); err != nil {
		return err
	}
	if targetID == userID {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Owners cannot remove themselves", nil)
	}
	if err := s.store.DeleteGrant(ctx, targetID, sheetID); err != nil {
		return err
	}
	s.indexRefresh(sheetID)
	return nil
}

// notifyShared mails the new member in the background. Failures are logged
// and never undo the grant.
func (s *Service) notifyShared(ctx context.Context, sharerID string, target store.User, sheet store.Sheet, access string) {
	if s.notifier == nil || target.Mail == "" {
		return
	}
	sharedBy := sharerID
	if sharer, err := s.store.GetUserByID(ctx, sharerID); err == nil {
		sharedBy = sharer.Login
	}
	notice := email.ShareNotice{
		RecipientMail: target.Mail,
		RecipientName: strings.TrimSpace(target.Firstname + " " + target.Lastname),
		SharedBy:      sharedBy,
		SheetID:       sheet.ID,
		SheetTitle:    sheet.Title,
		Access:        access,
	}
	go func() {
		if err := s.notifier.SendShareNotice(notice); err != nil {
			log.Printf("share notice for sheet %d to %s: %v", sheet.ID, target.ID, err)
		}
	}()
}
