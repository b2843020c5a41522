package routes

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/latortuga71/GoEvade/internal/data"
	"github.com/latortuga71/GoEvade/internal/db"
	"github.com/latortuga71/GoEvade/internal/detector"
	"github.com/latortuga71/GoEvade/internal/log"
)

var DebugMode bool
var ServerSharedSecret string
var ScoreModel = detector.NewModel(0.5)

func LogRequest(c *gin.Context) {
	ipStr := c.RemoteIP()
	method := c.Request.Method
	path := c.FullPath()
	log.Log.Info().Str("service", "ScoreAPI").Msgf("%s %s Request From %s", method, path, ipStr)
}

func checkSecret(c *gin.Context) bool {
	if ServerSharedSecret == "" {
		return true
	}
	if c.GetHeader("authorization") == ServerSharedSecret {
		return true
	}
	c.JSON(http.StatusForbidden, gin.H{"Status": "Not Allowed"})
	return false
}

// RecordScan runs the model over raw bytes and appends the verdict to the
// scan log.
func RecordScan(filename string, raw []byte) data.ScoreResponse {
	confidence := ScoreModel.Predict(ScoreModel.Analyze(raw))
	digest := sha256.Sum256(raw)
	response := data.ScoreResponse{
		Sha256:     hex.EncodeToString(digest[:]),
		SizeBytes:  len(raw),
		Confidence: confidence,
		Malicious:  ScoreModel.Malicious(confidence),
	}
	record := data.ScanRecord{
		ScanId:     data.GenerateUUID(),
		Filename:   filename,
		Sha256:     response.Sha256,
		SizeBytes:  response.SizeBytes,
		Confidence: response.Confidence,
		Malicious:  response.Malicious,
		ReceivedAt: time.Now(),
	}
	if !db.ScansDatabase.AddScan(record) {
		log.Log.Error().Str("service", "ScoreAPI").Msg("Failed to add scan record to database.")
	}
	return response
}

func ScoreEndpoint(c *gin.Context) {
	LogRequest(c)
	if !checkSecret(c) {
		return
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil || len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"Error": "Empty Body"})
		return
	}
	c.JSON(http.StatusOK, RecordScan(c.GetHeader("filename"), raw))
}

func ScoreJSONEndpoint(c *gin.Context) {
	LogRequest(c)
	if !checkSecret(c) {
		return
	}
	scorePayload := &data.ScoreRequest{}
	err := c.BindJSON(scorePayload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"Error": "Invalid Json"})
		return
	}
	raw, err := base64.StdEncoding.DecodeString(scorePayload.B64Binary)
	if err != nil || len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"Error": "Invalid Base64 Binary"})
		return
	}
	c.JSON(http.StatusOK, RecordScan(scorePayload.Filename, raw))
}

func ScansEndpoint(c *gin.Context) {
	LogRequest(c)
	if !checkSecret(c) {
		return
	}
	c.JSON(http.StatusOK, db.ScansDatabase.Scans())
}

func ScanEndpoint(c *gin.Context) {
	LogRequest(c)
	if !checkSecret(c) {
		return
	}
	id := c.Param("id")
	record, ok := db.ScansDatabase.GetScan(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "Scan not Found."})
		return
	}
	c.JSON(http.StatusOK, record)
}

func HealthEndpoint(c *gin.Context) {
	LogRequest(c)
	c.JSON(200, gin.H{
		"Status": "OK",
	})
}

func ScoreRouter() *gin.Engine {
	if !DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	v1 := router.Group("/v1")
	{
		v1.GET("/health", HealthEndpoint)
		v1.POST("/score", ScoreEndpoint)
		v1.POST("/score/json", ScoreJSONEndpoint)
		v1.GET("/scans", ScansEndpoint)
		v1.GET("/scan/:id", ScanEndpoint)
	}
	return router
}

func StartScoreAPI(port string) {
	router := ScoreRouter()
	err := router.Run(fmt.Sprintf("0.0.0.0:%s", port))
	log.Log.Fatal().Str("service", "ScoreAPI").Msgf("%v", err)
}
