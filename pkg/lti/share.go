// pkg/lti/share.go
package lti

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Share negotiation reasons.
const (
	reasonShareInPlace   = "You have not requested to share a resource link but an arrangement is currently in place."
	reasonShareDisabled  = "Your sharing request has been refused because sharing is not being permitted."
	reasonShareSelf      = "It is not possible to share your resource link with yourself."
	reasonShareNone      = "You have requested to share a resource link but none is available."
	reasonSharePending   = "Your share request is waiting to be approved."
	reasonShareUnloaded  = "Unable to load resource link being shared."
	reasonShareInitError = "An error occurred initialising your share arrangement."
)

// checkForShare resolves the sharing arrangement of the launch. On success the
// active resource link becomes the primary link when one is in place; the
// user keeps pointing at the launching link.
func (tp *ToolProvider) checkForShare(ctx context.Context, uow *unitOfWork) *LaunchError {
	link := tp.ResourceLink
	key, id := link.PrimaryConsumerKey, link.PrimaryResourceLinkID
	saveLink := true

	if shareKey := tp.Request.Get("custom_share_key"); shareKey != "" {
		if !tp.opts.AllowSharing {
			return reject(ShareRejected, reasonShareDisabled)
		}
		sk, err := tp.store.LoadShareKey(ctx, shareKey)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			le := storageFailure("load share key", err)
			le.Reason, le.debugOnly = reasonShareInitError, false
			return le
		case sk.PrimaryConsumerKey != "" && sk.PrimaryResourceLinkID != "":
			key, id = sk.PrimaryConsumerKey, sk.PrimaryResourceLinkID
			if key == tp.Consumer.Key && id == link.ID {
				return reject(ShareRejected, reasonShareSelf)
			}
			link.PrimaryConsumerKey = key
			link.PrimaryResourceLinkID = id
			link.ShareApproved = boolPtr(sk.AutoApprove)
			uow.saveLink(link)
			uow.deleteShareKey(sk.ID)
			saveLink = false
			tp.logger.Info("share key redeemed",
				"consumer", tp.Consumer.Key, "resource_link", link.ID,
				"primary_consumer", key, "primary_resource_link", id)
		}
		if key == "" {
			return reject(ShareRejected, reasonShareNone)
		}
		if !tp.User.Link.IsShareApproved() {
			return reject(ShareRejected, reasonSharePending)
		}
	} else if key != "" {
		return reject(ShareRejected, reasonShareInPlace)
	}

	if key == "" {
		return nil
	}
	if _, err := tp.store.LoadToolConsumer(ctx, key); err != nil {
		if errors.Is(err, ErrNotFound) {
			return reject(ShareRejected, reasonShareUnloaded)
		}
		return storageFailure("load primary consumer", err)
	}
	primary, err := tp.store.LoadResourceLink(ctx, key, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return reject(ShareRejected, reasonShareUnloaded)
		}
		return storageFailure("load primary resource link", err)
	}
	if saveLink {
		uow.saveLink(link)
	}
	tp.ResourceLink = primary
	return nil
}

// IssueShareKey creates and stores a share key for link.
func IssueShareKey(ctx context.Context, s ShareKeyStore, link *ResourceLink, autoApprove bool, life, length int, now time.Time) (*ShareKey, error) {
	sk := NewShareKey(link, autoApprove, life, length, now)
	if err := s.SaveShareKey(ctx, sk); err != nil {
		return nil, fmt.Errorf("lti: save share key: %w", err)
	}
	return sk, nil
}

// IssueShareKey creates and stores a share key for link.
func (tp *ToolProvider) IssueShareKey(ctx context.Context, link *ResourceLink, autoApprove bool, life, length int) (*ShareKey, error) {
	return IssueShareKey(ctx, tp.store, link, autoApprove, life, length, tp.now())
}
