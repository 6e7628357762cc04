package gemini

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"koemuse-server/internal/platform/logging"
)

const musicPromptTemplate = `あなたはプロの音楽プロデューサーです。
提示されたテーマを基に、音楽生成AI（Suno AIなど）で利用するための、創造的で具体的なプロンプトを生成してください。

# プロンプトに含める要素
- ジャンル (例: Lo-fi hip hop, Ambient, Cinematic, J-Pop)
- 雰囲気 (例: melancholy, hopeful, nostalgic)
- 楽器 (例: gentle piano, soft synth pads, acoustic guitar)
- テンポ (例: slow tempo, 120 BPM)
- その他情景描写 (例: sound of gentle rain, reverb-heavy)

# 制約条件
- 必ず英語で、カンマ区切りの単語やフレーズで出力してください。
- 説明文や前置きは不要です。

---
## 入力テーマ
- 感情: %s
- キーワード: %s

## 生成プロンプト
`

const lyricsTemplate = `あなたはプロの作詞家です。
提示されたテーマを基に、リスナーの心に響くような歌詞を生成してください。

# 歌詞の構成
- 1番のAメロ、Bメロ、サビを作詞してください。
- 各セクションが分かるように、[Verse 1], [Pre-Chorus], [Chorus] のような見出しを付けてください。

# 制約条件
- 歌詞は英語で生成してください。
- 説明文や前置きは不要です。歌詞のみを出力してください。

---
## 入力テーマ
- 感情: %s
- キーワード: %s

## 生成される歌詞
`

// ComposerConfig holds the model endpoint settings. BaseURL points at an
// OpenAI-compatible surface, e.g. the Gemini compatibility endpoint.
type ComposerConfig struct {
	BaseURL   string
	APIKey    string
	ModelName string
	MaxTokens int
}

// Composer generates music prompts and lyrics from an emotion plus the
// spoken keywords. Each call degrades independently: a model failure
// yields an inline error string instead of an error return, so one bad
// call never sinks the other field.
type Composer struct {
	client *openai.Client
	cfg    ComposerConfig
	logger *logging.Logger
}

// NewComposer builds the composer against the configured endpoint.
func NewComposer(cfg ComposerConfig, logger *logging.Logger) *Composer {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &Composer{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
		logger: logger,
	}
}

// MusicPrompt returns a comma-separated English prompt for a music
// generation model.
func (c *Composer) MusicPrompt(ctx context.Context, emotionLabel, words string) string {
	if emotionLabel == "" || words == "" {
		return "感情またはキーワードが不足しているため、プロンプトを生成できませんでした。"
	}
	out, err := c.complete(ctx, fmt.Sprintf(musicPromptTemplate, emotionLabel, words))
	if err != nil {
		c.logger.ErrorTag("Gemini", "music prompt generation failed: %v", err)
		return fmt.Sprintf("音楽プロンプトの生成中にエラーが発生しました: %v", err)
	}
	return out
}

// Lyrics returns generated English lyrics with section headings, LRC
// timestamps normalized when the model adds them.
func (c *Composer) Lyrics(ctx context.Context, emotionLabel, words string) string {
	if emotionLabel == "" || words == "" {
		return "感情またはキーワードが不足しているため、歌詞を生成できませんでした。"
	}
	out, err := c.complete(ctx, fmt.Sprintf(lyricsTemplate, emotionLabel, words))
	if err != nil {
		c.logger.ErrorTag("Gemini", "lyrics generation failed: %v", err)
		return fmt.Sprintf("歌詞の生成中にエラーが発生しました: %v", err)
	}
	return NormalizeLRCTimestamps(out)
}

func (c *Composer) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.cfg.ModelName,
		MaxTokens: c.cfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
