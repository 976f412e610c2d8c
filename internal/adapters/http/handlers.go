package http

import (
	stdhttp "net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicechat/internal/app/orch"
	"github.com/dkeye/voicechat/internal/datastore"
	"github.com/dkeye/voicechat/internal/domain"
	"github.com/dkeye/voicechat/internal/protocol"
)

type handlers struct {
	orch  *orch.Orchestrator
	store datastore.Store
}

type voiceChannelView struct {
	*domain.Channel
	Users []protocol.VoiceUser `json:"users"`
}

type channelsView struct {
	TextChannels  []*domain.Channel  `json:"text_channels"`
	VoiceChannels []voiceChannelView `json:"voice_channels"`
}

// listChannels returns every channel visible to the caller, voice channels
// with their current roster.
func (h *handlers) listChannels(c *gin.Context) {
	u := CurrentUser(c)
	all, err := h.store.ListChannels(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("list channels")
		c.JSON(stdhttp.StatusInternalServerError, gin.H{"error": "failed to list channels"})
		return
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	view := channelsView{
		TextChannels:  []*domain.Channel{},
		VoiceChannels: []voiceChannelView{},
	}
	for _, ch := range all {
		if !ch.CanAccess(u) {
			continue
		}
		switch ch.Kind {
		case domain.ChannelText:
			view.TextChannels = append(view.TextChannels, ch)
		case domain.ChannelVoice:
			roster := h.orch.Membership.Roster(ch.ID)
			view.VoiceChannels = append(view.VoiceChannels, voiceChannelView{Channel: ch, Users: roster.Users})
		}
	}
	c.JSON(stdhttp.StatusOK, view)
}

func (h *handlers) me(c *gin.Context) {
	c.JSON(stdhttp.StatusOK, CurrentUser(c))
}

type profilePatch struct {
	AvatarURL     *string `json:"avatar_url"`
	AutoJoinVoice *bool   `json:"auto_join_voice"`
}

func (h *handlers) updateMe(c *gin.Context) {
	var req profilePatch
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	u := *CurrentUser(c)
	if req.AvatarURL != nil {
		if err := u.SetAvatarURL(*req.AvatarURL); err != nil {
			c.JSON(stdhttp.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.AutoJoinVoice != nil {
		u.AutoJoinVoice = *req.AutoJoinVoice
	}
	if err := h.store.UpdateUserProfile(c.Request.Context(), &u); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Int64("user", int64(u.ID)).Msg("update profile")
		c.JSON(stdhttp.StatusInternalServerError, gin.H{"error": "failed to update profile"})
		return
	}
	c.JSON(stdhttp.StatusOK, &u)
}

func (h *handlers) audioConfig(c *gin.Context) {
	c.JSON(stdhttp.StatusOK, h.orch.Audio.Config())
}

func (h *handlers) audioStats(c *gin.Context) {
	c.JSON(stdhttp.StatusOK, h.orch.Audio.Stats())
}

func (h *handlers) resetAudioStats(c *gin.Context) {
	h.orch.Audio.ResetStats()
	log.Info().Str("module", "adapters.http").Int64("user", int64(CurrentUser(c).ID)).Msg("audio stats reset")
	c.Status(stdhttp.StatusNoContent)
}

func (h *handlers) rooms(c *gin.Context) {
	c.JSON(stdhttp.StatusOK, h.orch.Rooms.List())
}

func (h *handlers) healthz(c *gin.Context) {
	c.JSON(stdhttp.StatusOK, gin.H{
		"status":         "ok",
		"connections":    h.orch.Registry.Count(),
		"voice_sessions": h.orch.Membership.VoiceSessionCount(),
	})
}
